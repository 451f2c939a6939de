package routing

import "sort"

// ViewKey 逻辑视图标识，由展示层决定如何失效缓存
type ViewKey string

const (
	ViewWorkOrders  ViewKey = "work-orders"
	ViewSchedule    ViewKey = "schedule"
	ViewWorkCenters ViewKey = "work-centers"
)

func WorkOrderView(workOrderID string) ViewKey {
	return ViewKey("work-order:" + workOrderID)
}

func WorkCenterView(workCenterID string) ViewKey {
	return ViewKey("work-center:" + workCenterID)
}

// StaleViews 一次工序状态变化后需要刷新的视图（去重、排序）
func StaleViews(workOrderID string, workCenterIDs ...string) []ViewKey {
	set := map[ViewKey]bool{
		ViewWorkOrders:  true,
		ViewSchedule:    true,
		ViewWorkCenters: true,
	}
	if workOrderID != "" {
		set[WorkOrderView(workOrderID)] = true
	}
	for _, wc := range workCenterIDs {
		if wc != "" {
			set[WorkCenterView(wc)] = true
		}
	}
	keys := make([]ViewKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
