package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// SeedData 基础数据文件（YAML）
type SeedData struct {
	Roles       []SeedRole       `yaml:"roles"`
	Users       []SeedUser       `yaml:"users"`
	WorkCenters []SeedWorkCenter `yaml:"work_centers"`
	Parts       []SeedPart       `yaml:"parts"`
}

type SeedRole struct {
	Code        string   `yaml:"code"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type SeedUser struct {
	ID       string   `yaml:"id"`
	Username string   `yaml:"username"`
	Name     string   `yaml:"name"`
	Email    string   `yaml:"email"`
	Roles    []string `yaml:"roles"`
}

type SeedWorkCenter struct {
	ID       string `yaml:"id"`
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
}

type SeedPart struct {
	ID         string       `yaml:"id"`
	PartNumber string       `yaml:"part_number"`
	Name       string       `yaml:"name"`
	Routing    *SeedRouting `yaml:"routing"`
}

type SeedRouting struct {
	Name     string     `yaml:"name"`
	Revision string     `yaml:"revision"`
	Steps    []SeedStep `yaml:"steps"`
}

type SeedStep struct {
	Sequence        int     `yaml:"sequence"`
	Code            string  `yaml:"code"`
	Name            string  `yaml:"name"`
	WorkCenter      string  `yaml:"work_center"` // 工作中心编码
	SetupMinutes    int     `yaml:"setup_minutes"`
	RunMinutes      float64 `yaml:"run_minutes"`
	DefaultAssignee string  `yaml:"default_assignee"`
}

// SeedSummary 导入统计
type SeedSummary struct {
	Roles       int
	Users       int
	WorkCenters int
	Parts       int
	Routings    int
}

// LoadSeedFile 读取 YAML 基础数据
func LoadSeedFile(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var data SeedData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &data, nil
}

// Seed 在一个事务中写入基础数据。已存在的记录（按编码匹配）保持不变，可重复执行。
func Seed(ctx context.Context, db *gorm.DB, data *SeedData) (*SeedSummary, error) {
	var sum SeedSummary
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roles := map[string]*entity.Role{}
		for _, r := range data.Roles {
			role, created, err := seedRole(tx, r)
			if err != nil {
				return err
			}
			roles[r.Code] = role
			if created {
				sum.Roles++
			}
		}

		for _, u := range data.Users {
			if u.ID == "" || u.Username == "" {
				return fmt.Errorf("user requires id and username: %+v", u)
			}
			user := entity.User{ID: u.ID, Username: u.Username, Name: u.Name, Email: u.Email, Status: "active"}
			if user.Name == "" {
				user.Name = u.Username
			}
			res := tx.Where(entity.User{ID: u.ID}).Attrs(user).FirstOrCreate(&user)
			if res.Error != nil {
				return fmt.Errorf("seed user %s: %w", u.ID, res.Error)
			}
			if res.RowsAffected > 0 {
				sum.Users++
			}
			for _, code := range u.Roles {
				role, ok := roles[code]
				if !ok {
					return fmt.Errorf("user %s references unknown role %q", u.ID, code)
				}
				if err := tx.Model(&user).Association("Roles").Append(role); err != nil {
					return fmt.Errorf("assign role %s to %s: %w", code, u.ID, err)
				}
			}
		}

		centers := map[string]string{}
		for _, w := range data.WorkCenters {
			if w.Code == "" {
				return errors.New("work center requires code")
			}
			wc := entity.WorkCenter{ID: w.ID, Code: w.Code, Name: w.Name, Capacity: w.Capacity, Status: "active"}
			if wc.ID == "" {
				wc.ID = uuid.NewString()
			}
			if wc.Name == "" {
				wc.Name = w.Code
			}
			if wc.Capacity <= 0 {
				wc.Capacity = 1
			}
			res := tx.Where(entity.WorkCenter{Code: w.Code}).Attrs(wc).FirstOrCreate(&wc)
			if res.Error != nil {
				return fmt.Errorf("seed work center %s: %w", w.Code, res.Error)
			}
			if res.RowsAffected > 0 {
				sum.WorkCenters++
			}
			centers[w.Code] = wc.ID
		}

		for _, p := range data.Parts {
			created, routed, err := seedPart(tx, p, centers)
			if err != nil {
				return err
			}
			if created {
				sum.Parts++
			}
			if routed {
				sum.Routings++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func seedRole(tx *gorm.DB, r SeedRole) (*entity.Role, bool, error) {
	if r.Code == "" {
		return nil, false, errors.New("role requires code")
	}
	role := entity.Role{ID: uuid.NewString(), Code: r.Code, Name: r.Name}
	if role.Name == "" {
		role.Name = r.Code
	}
	res := tx.Where(entity.Role{Code: r.Code}).Attrs(role).FirstOrCreate(&role)
	if res.Error != nil {
		return nil, false, fmt.Errorf("seed role %s: %w", r.Code, res.Error)
	}
	for _, code := range r.Permissions {
		perm := entity.Permission{ID: uuid.NewString(), Code: code, Name: code}
		if err := tx.Where(entity.Permission{Code: code}).Attrs(perm).FirstOrCreate(&perm).Error; err != nil {
			return nil, false, fmt.Errorf("seed permission %s: %w", code, err)
		}
		if err := tx.Model(&role).Association("Permissions").Append(&perm); err != nil {
			return nil, false, fmt.Errorf("grant %s to %s: %w", code, r.Code, err)
		}
	}
	return &role, res.RowsAffected > 0, nil
}

// seedPart 创建零件；零件没有生效路线时按 routing 创建
func seedPart(tx *gorm.DB, p SeedPart, centers map[string]string) (bool, bool, error) {
	if p.PartNumber == "" {
		return false, false, errors.New("part requires part_number")
	}
	part := entity.Part{ID: p.ID, PartNumber: p.PartNumber, Name: p.Name}
	if part.ID == "" {
		part.ID = uuid.NewString()
	}
	if part.Name == "" {
		part.Name = p.PartNumber
	}
	res := tx.Where(entity.Part{PartNumber: p.PartNumber}).Attrs(part).FirstOrCreate(&part)
	if res.Error != nil {
		return false, false, fmt.Errorf("seed part %s: %w", p.PartNumber, res.Error)
	}
	created := res.RowsAffected > 0
	if p.Routing == nil || len(p.Routing.Steps) == 0 {
		return created, false, nil
	}

	var active int64
	if err := tx.Model(&entity.Routing{}).Where("part_id = ? AND is_active = ?", part.ID, true).Count(&active).Error; err != nil {
		return false, false, err
	}
	if active > 0 {
		return created, false, nil
	}

	rt := entity.Routing{
		ID:       uuid.NewString(),
		PartID:   part.ID,
		Name:     p.Routing.Name,
		Revision: p.Routing.Revision,
		IsActive: true,
	}
	if rt.Name == "" {
		rt.Name = part.Name
	}
	if rt.Revision == "" {
		rt.Revision = "A"
	}
	for _, s := range p.Routing.Steps {
		wcID, ok := centers[s.WorkCenter]
		if !ok {
			var wc entity.WorkCenter
			if err := tx.Where("code = ?", s.WorkCenter).First(&wc).Error; err != nil {
				return false, false, fmt.Errorf("part %s step %d: unknown work center %q", p.PartNumber, s.Sequence, s.WorkCenter)
			}
			wcID = wc.ID
		}
		step := entity.RoutingStep{
			ID:           uuid.NewString(),
			Sequence:     s.Sequence,
			Code:         s.Code,
			Name:         s.Name,
			WorkCenterID: wcID,
			SetupMinutes: s.SetupMinutes,
			RunMinutes:   s.RunMinutes,
		}
		if s.DefaultAssignee != "" {
			assignee := s.DefaultAssignee
			step.DefaultAssignee = &assignee
		}
		rt.Steps = append(rt.Steps, step)
	}
	if err := tx.Create(&rt).Error; err != nil {
		return false, false, fmt.Errorf("seed routing for %s: %w", p.PartNumber, err)
	}
	return created, true, nil
}
