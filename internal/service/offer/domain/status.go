// internal/service/offer/domain/status.go
package domain

import (
	"fmt"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
)

// Status 是 offer 的生命周期状态码，每个状态码属于一个环境层级。
type Status int

const (
	StatusLocalDraft Status = 1

	StatusStgCreatePending          Status = 10
	StatusStgCreateFailed           Status = 11
	StatusStgCreateRollbackFailed   Status = 12
	StatusStaged                    Status = 13
	StatusStgUpdatePending          Status = 14
	StatusStgUpdateFailed           Status = 15
	StatusStgUpdateRollbackFailed   Status = 16
	StatusStgRetirePending          Status = 17
	StatusStgRetireFailed           Status = 18 // 旧数据中存在；补偿成功的删除会恢复原状态，不再产生该状态
	StatusStgRetireRollbackFailed   Status = 19
	StatusStgValidatePending        Status = 20
	StatusStgValidateFailed         Status = 21
	StatusStgValidateRollbackFailed Status = 22
	StatusStgBuildPending           Status = 23
	StatusStgValidated              Status = 24

	StatusProdCreatePending          Status = 30
	StatusProdCreateFailed           Status = 31
	StatusProdCreateRollbackFailed   Status = 32
	StatusPublished                  Status = 33
	StatusProdUpdatePending          Status = 34
	StatusProdUpdateFailed           Status = 35
	StatusProdUpdateRollbackFailed   Status = 36
	StatusProdRetirePending          Status = 37
	StatusProdRetireFailed           Status = 38
	StatusProdRetireRollbackFailed   Status = 39
	StatusProdValidatePending        Status = 40
	StatusProdValidateFailed         Status = 41
	StatusProdValidateRollbackFailed Status = 42
	StatusProdBuildPending           Status = 43
	StatusProdValidated              Status = 44

	StatusRetired Status = 90
)

// tierCodes 是某个环境下各操作使用的状态码。
type tierCodes struct {
	env  collaborator.Env
	tier Status

	createPending, createFailed, createRbFailed       Status
	updatePending, updateFailed, updateRbFailed       Status
	retirePending, retireFailed, retireRbFailed       Status
	validatePending, validateFailed, validateRbFailed Status
	buildPending, validated                           Status
}

var stgCodes = tierCodes{
	env: collaborator.EnvStaged, tier: StatusStaged,
	createPending: StatusStgCreatePending, createFailed: StatusStgCreateFailed, createRbFailed: StatusStgCreateRollbackFailed,
	updatePending: StatusStgUpdatePending, updateFailed: StatusStgUpdateFailed, updateRbFailed: StatusStgUpdateRollbackFailed,
	retirePending: StatusStgRetirePending, retireFailed: StatusStgRetireFailed, retireRbFailed: StatusStgRetireRollbackFailed,
	validatePending: StatusStgValidatePending, validateFailed: StatusStgValidateFailed, validateRbFailed: StatusStgValidateRollbackFailed,
	buildPending: StatusStgBuildPending, validated: StatusStgValidated,
}

var prodCodes = tierCodes{
	env: collaborator.EnvPublished, tier: StatusPublished,
	createPending: StatusProdCreatePending, createFailed: StatusProdCreateFailed, createRbFailed: StatusProdCreateRollbackFailed,
	updatePending: StatusProdUpdatePending, updateFailed: StatusProdUpdateFailed, updateRbFailed: StatusProdUpdateRollbackFailed,
	retirePending: StatusProdRetirePending, retireFailed: StatusProdRetireFailed, retireRbFailed: StatusProdRetireRollbackFailed,
	validatePending: StatusProdValidatePending, validateFailed: StatusProdValidateFailed, validateRbFailed: StatusProdValidateRollbackFailed,
	buildPending: StatusProdBuildPending, validated: StatusProdValidated,
}

func codesFor(env collaborator.Env) (tierCodes, bool) {
	switch env {
	case collaborator.EnvStaged:
		return stgCodes, true
	case collaborator.EnvPublished:
		return prodCodes, true
	}
	return tierCodes{}, false
}

var statusNames = map[Status]string{
	StatusLocalDraft: "local-draft",

	StatusStgCreatePending: "stg-create-pending", StatusStgCreateFailed: "stg-create-failed",
	StatusStgCreateRollbackFailed: "stg-create-rollback-failed", StatusStaged: "staged",
	StatusStgUpdatePending: "stg-update-pending", StatusStgUpdateFailed: "stg-update-failed",
	StatusStgUpdateRollbackFailed: "stg-update-rollback-failed", StatusStgRetirePending: "stg-retire-pending",
	StatusStgRetireFailed: "stg-retire-failed", StatusStgRetireRollbackFailed: "stg-retire-rollback-failed",
	StatusStgValidatePending: "stg-validate-pending", StatusStgValidateFailed: "stg-validate-failed",
	StatusStgValidateRollbackFailed: "stg-validate-rollback-failed", StatusStgBuildPending: "stg-build-pending",
	StatusStgValidated: "stg-validated",

	StatusProdCreatePending: "prod-create-pending", StatusProdCreateFailed: "prod-create-failed",
	StatusProdCreateRollbackFailed: "prod-create-rollback-failed", StatusPublished: "published",
	StatusProdUpdatePending: "prod-update-pending", StatusProdUpdateFailed: "prod-update-failed",
	StatusProdUpdateRollbackFailed: "prod-update-rollback-failed", StatusProdRetirePending: "prod-retire-pending",
	StatusProdRetireFailed: "prod-retire-failed", StatusProdRetireRollbackFailed: "prod-retire-rollback-failed",
	StatusProdValidatePending: "prod-validate-pending", StatusProdValidateFailed: "prod-validate-failed",
	StatusProdValidateRollbackFailed: "prod-validate-rollback-failed", StatusProdBuildPending: "prod-build-pending",
	StatusProdValidated: "prod-validated",

	StatusRetired: "retired",
}

// AllStatuses 返回注册表中的全部状态码。
func AllStatuses() []Status {
	out := make([]Status, 0, len(statusNames))
	for s := range statusNames {
		out = append(out, s)
	}
	return out
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid 报告 s 是否属于注册表。
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Env 返回状态所属的环境层级；退役状态不属于任何环境。
func (s Status) Env() collaborator.Env {
	switch {
	case s == StatusLocalDraft:
		return collaborator.EnvLocal
	case s >= StatusStgCreatePending && s <= StatusStgValidated:
		return collaborator.EnvStaged
	case s >= StatusProdCreatePending && s <= StatusProdValidated:
		return collaborator.EnvPublished
	}
	return ""
}

type statusSet map[Status]struct{}

func setOf(ss ...Status) statusSet {
	out := make(statusSet, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}

func (m statusSet) has(s Status) bool {
	_, ok := m[s]
	return ok
}

var (
	allowedCreate = map[collaborator.Env]statusSet{
		collaborator.EnvStaged:    setOf(StatusLocalDraft, StatusStgCreateFailed, StatusStgValidateFailed),
		collaborator.EnvPublished: setOf(StatusStgValidated, StatusProdCreateFailed, StatusProdValidateFailed),
	}
	allowedUpdate = map[collaborator.Env]statusSet{
		collaborator.EnvStaged:    setOf(StatusStaged, StatusStgUpdateFailed, StatusStgValidated),
		collaborator.EnvPublished: setOf(StatusPublished, StatusProdUpdateFailed, StatusProdValidated),
	}
	allowedValidate = map[collaborator.Env]statusSet{
		collaborator.EnvStaged:    setOf(StatusStaged, StatusStgValidated, StatusStgUpdateFailed),
		collaborator.EnvPublished: setOf(StatusPublished, StatusProdValidated, StatusProdUpdateFailed),
	}
	allowedDelete = setOf(
		StatusStaged, StatusStgValidated, StatusStgUpdateFailed, StatusStgCreateFailed,
		StatusStgValidateFailed, StatusStgRetireFailed,
		StatusPublished, StatusProdValidated, StatusProdUpdateFailed, StatusProdCreateFailed,
		StatusProdValidateFailed, StatusProdRetireFailed,
	)
	inFlight = setOf(
		StatusStgCreatePending, StatusStgUpdatePending, StatusStgRetirePending, StatusStgValidatePending, StatusStgBuildPending,
		StatusProdCreatePending, StatusProdUpdatePending, StatusProdRetirePending, StatusProdValidatePending, StatusProdBuildPending,
	)
	rollbackFailed = setOf(
		StatusStgCreateRollbackFailed, StatusStgUpdateRollbackFailed, StatusStgRetireRollbackFailed, StatusStgValidateRollbackFailed,
		StatusProdCreateRollbackFailed, StatusProdUpdateRollbackFailed, StatusProdRetireRollbackFailed, StatusProdValidateRollbackFailed,
	)
	// 删除时，这些状态说明 offer 已经在 published 环境创建过资源。
	reachedPublished = setOf(StatusPublished, StatusProdValidated, StatusProdUpdateFailed, StatusProdValidateFailed, StatusProdRetireFailed)
)

func IsAllowedForCreate(env collaborator.Env, s Status) bool { return allowedCreate[env].has(s) }
func IsAllowedForUpdate(env collaborator.Env, s Status) bool { return allowedUpdate[env].has(s) }
func IsAllowedForValidate(env collaborator.Env, s Status) bool { return allowedValidate[env].has(s) }
func IsAllowedForDelete(s Status) bool { return allowedDelete.has(s) }

// IsInFlight 报告是否有 saga 正在该 offer 上执行。
func IsInFlight(s Status) bool { return inFlight.has(s) }

// IsRollbackFailed 报告 s 是否是需要人工介入的补偿失败终态。
func IsRollbackFailed(s Status) bool { return rollbackFailed.has(s) }

// ReachedPublished 报告 offer 是否已经在 published 环境拥有资源。
func ReachedPublished(s Status) bool { return reachedPublished.has(s) }

// TierStatus 返回某个环境的稳定状态（staged 或 published）。
func TierStatus(env collaborator.Env) (Status, bool) {
	c, ok := codesFor(env)
	return c.tier, ok
}

type Operation string

const (
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpValidate Operation = "validate"
	OpBuild    Operation = "build"
)

type Outcome string

const (
	OutcomePending         Outcome = "pending"
	OutcomeSuccess         Outcome = "success"
	OutcomeFailure         Outcome = "failure"
	OutcomeRollbackFailure Outcome = "rollback-failure"
	// OutcomeRetryable 表示繁忙或离线：不做补偿，恢复到操作前的状态。
	OutcomeRetryable Outcome = "retryable"
)

// Transition 是 NextStatus 的输入。Prior 只在需要恢复原状态的结果中使用。
type Transition struct {
	Op      Operation
	Env     collaborator.Env
	Outcome Outcome
	Prior   Status
}

// NextStatus 查表返回需要持久化的状态。所有状态写入都必须经过这里。
func NextStatus(t Transition) (Status, error) {
	c, ok := codesFor(t.Env)
	if !ok {
		return 0, fmt.Errorf("no status table for environment %q", t.Env)
	}

	revert := func() (Status, error) {
		if !t.Prior.Valid() {
			return 0, fmt.Errorf("%s %s in %s needs a valid prior status, got %v", t.Op, t.Outcome, t.Env, t.Prior)
		}
		return t.Prior, nil
	}
	if t.Outcome == OutcomeRetryable {
		return revert()
	}

	var row [4]Status // pending, success, failure, rollback-failure
	switch t.Op {
	case OpCreate:
		row = [4]Status{c.createPending, c.tier, c.createFailed, c.createRbFailed}
	case OpUpdate:
		row = [4]Status{c.updatePending, c.tier, c.updateFailed, c.updateRbFailed}
	case OpDelete:
		if t.Outcome == OutcomeFailure {
			return revert()
		}
		row = [4]Status{c.retirePending, StatusRetired, 0, c.retireRbFailed}
	case OpValidate:
		row = [4]Status{c.validatePending, c.buildPending, c.validateFailed, c.validateRbFailed}
	case OpBuild:
		row = [4]Status{c.buildPending, c.validated, c.validateFailed, c.validateRbFailed}
	default:
		return 0, fmt.Errorf("unknown operation %q", t.Op)
	}

	switch t.Outcome {
	case OutcomePending:
		return row[0], nil
	case OutcomeSuccess:
		return row[1], nil
	case OutcomeFailure:
		return row[2], nil
	case OutcomeRollbackFailure:
		return row[3], nil
	}
	return 0, fmt.Errorf("unknown outcome %q", t.Outcome)
}
