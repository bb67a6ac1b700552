// internal/service/offer/domain/campaign.go
package domain

// Campaign 是共享同一个 campaign id 的一组区域 offer，没有独立的生命周期。
type Campaign struct {
	ID     string
	Kind   Kind
	Offers []*Offer
}

// Status 返回成员中最需要关注的状态：补偿失败 > 失败 > 执行中 > 本地草稿 > 其他。
func (c *Campaign) Status() Status {
	var worst Status
	worstRank := -1
	for _, o := range c.Offers {
		if r := severity(o.Status); r > worstRank {
			worst, worstRank = o.Status, r
		}
	}
	return worst
}

func severity(s Status) int {
	switch {
	case IsRollbackFailed(s):
		return 4
	case isFailed(s):
		return 3
	case IsInFlight(s):
		return 2
	case s == StatusLocalDraft:
		return 1
	}
	return 0
}

func isFailed(s Status) bool {
	switch s {
	case StatusStgCreateFailed, StatusStgUpdateFailed, StatusStgRetireFailed, StatusStgValidateFailed,
		StatusProdCreateFailed, StatusProdUpdateFailed, StatusProdRetireFailed, StatusProdValidateFailed:
		return true
	}
	return false
}
