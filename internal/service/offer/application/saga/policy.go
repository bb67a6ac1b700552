package saga

import (
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// Compensation 是一种补偿动作。
type Compensation string

const (
	DeactivateCoupon        Compensation = "deactivate-coupon"
	DeactivateUpgradeCoupon Compensation = "deactivate-upgrade-coupon"
	RestoreCoupon           Compensation = "restore-coupon"
	RestoreUpgradeCoupon    Compensation = "restore-upgrade-coupon"
	ArchiveContent          Compensation = "archive-content"
	RestoreContent          Compensation = "restore-content"
	RollbackTargeting       Compensation = "rollback-targeting"
)

var (
	createBilling = []Compensation{DeactivateUpgradeCoupon, DeactivateCoupon}
	createConfig  = []Compensation{RollbackTargeting, DeactivateUpgradeCoupon, DeactivateCoupon}
	createFull    = []Compensation{ArchiveContent, RollbackTargeting, DeactivateUpgradeCoupon, DeactivateCoupon}

	updateBilling = []Compensation{RestoreUpgradeCoupon, RestoreCoupon}
	updateConfig  = []Compensation{RollbackTargeting, RestoreUpgradeCoupon, RestoreCoupon}
	updateFull    = []Compensation{RestoreContent, RollbackTargeting, RestoreUpgradeCoupon, RestoreCoupon}

	deleteBilling = []Compensation{RestoreUpgradeCoupon, RestoreCoupon}
	deleteFull    = []Compensation{RollbackTargeting, RestoreUpgradeCoupon, RestoreCoupon}
)

// policy 按操作和错误来源给出补偿顺序；缺省项使用该操作的完整列表。
var policy = map[domain.Operation]map[remote.Origin][]Compensation{
	domain.OpCreate: {
		remote.OriginBilling:   createBilling,
		remote.OriginTargeting: createConfig,
		remote.OriginAuthCache: createConfig,
		remote.OriginContent:   createFull,
		remote.OriginCache:     createFull,
		remote.OriginStore:     createFull,
	},
	domain.OpUpdate: {
		remote.OriginBilling:   updateBilling,
		remote.OriginTargeting: updateConfig,
		remote.OriginAuthCache: updateConfig,
		remote.OriginContent:   updateFull,
		remote.OriginCache:     updateFull,
		remote.OriginStore:     updateFull,
	},
	domain.OpDelete: {
		remote.OriginBilling: deleteBilling,
	},
}

var fullPlan = map[domain.Operation][]Compensation{
	domain.OpCreate:   createFull,
	domain.OpUpdate:   updateFull,
	domain.OpDelete:   deleteFull,
	domain.OpValidate: createFull,
	domain.OpBuild:    createFull,
}

// Plan 返回 (op, origin) 对应的补偿列表，调用方再按已生效的步骤过滤。
func Plan(op domain.Operation, origin remote.Origin) []Compensation {
	if byOrigin, ok := policy[op]; ok {
		if plan, ok := byOrigin[origin]; ok {
			return plan
		}
	}
	return fullPlan[op]
}
