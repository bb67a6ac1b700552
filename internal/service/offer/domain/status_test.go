package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
)

var envs = []collaborator.Env{collaborator.EnvStaged, collaborator.EnvPublished}

func TestAllowedSetsAreDisjointFromInFlight(t *testing.T) {
	for _, s := range AllStatuses() {
		if !IsInFlight(s) {
			continue
		}
		for _, env := range envs {
			assert.False(t, IsAllowedForCreate(env, s), "create allowed from in-flight %v", s)
			assert.False(t, IsAllowedForUpdate(env, s), "update allowed from in-flight %v", s)
			assert.False(t, IsAllowedForValidate(env, s), "validate allowed from in-flight %v", s)
		}
		assert.False(t, IsAllowedForDelete(s), "delete allowed from in-flight %v", s)
	}
}

func TestRollbackFailedIsTerminal(t *testing.T) {
	for _, s := range AllStatuses() {
		if !IsRollbackFailed(s) {
			continue
		}
		for _, env := range envs {
			assert.False(t, IsAllowedForCreate(env, s))
			assert.False(t, IsAllowedForUpdate(env, s))
			assert.False(t, IsAllowedForValidate(env, s))
		}
		assert.False(t, IsAllowedForDelete(s))
	}
}

func TestRetiredAllowsNothing(t *testing.T) {
	for _, env := range envs {
		assert.False(t, IsAllowedForCreate(env, StatusRetired))
		assert.False(t, IsAllowedForUpdate(env, StatusRetired))
	}
	assert.False(t, IsAllowedForDelete(StatusRetired))
}

func TestPendingStatusesAreInFlight(t *testing.T) {
	ops := []Operation{OpCreate, OpUpdate, OpDelete, OpValidate, OpBuild}
	for _, env := range envs {
		for _, op := range ops {
			s, err := NextStatus(Transition{Op: op, Env: env, Outcome: OutcomePending})
			require.NoError(t, err)
			assert.True(t, IsInFlight(s), "%s pending in %s -> %v", op, env, s)
			assert.Equal(t, env, s.Env())
		}
	}
}

func TestNextStatusTable(t *testing.T) {
	cases := []struct {
		tr   Transition
		want Status
	}{
		{Transition{Op: OpCreate, Env: collaborator.EnvStaged, Outcome: OutcomeSuccess}, StatusStaged},
		{Transition{Op: OpCreate, Env: collaborator.EnvStaged, Outcome: OutcomeFailure}, StatusStgCreateFailed},
		{Transition{Op: OpCreate, Env: collaborator.EnvStaged, Outcome: OutcomeRollbackFailure}, StatusStgCreateRollbackFailed},
		{Transition{Op: OpCreate, Env: collaborator.EnvPublished, Outcome: OutcomeSuccess}, StatusPublished},
		{Transition{Op: OpUpdate, Env: collaborator.EnvPublished, Outcome: OutcomeFailure}, StatusProdUpdateFailed},
		{Transition{Op: OpUpdate, Env: collaborator.EnvStaged, Outcome: OutcomeSuccess}, StatusStaged},
		{Transition{Op: OpDelete, Env: collaborator.EnvStaged, Outcome: OutcomeSuccess}, StatusRetired},
		{Transition{Op: OpDelete, Env: collaborator.EnvStaged, Outcome: OutcomeFailure, Prior: StatusStgValidated}, StatusStgValidated},
		{Transition{Op: OpDelete, Env: collaborator.EnvPublished, Outcome: OutcomeRollbackFailure}, StatusProdRetireRollbackFailed},
		{Transition{Op: OpValidate, Env: collaborator.EnvStaged, Outcome: OutcomeSuccess}, StatusStgBuildPending},
		{Transition{Op: OpValidate, Env: collaborator.EnvStaged, Outcome: OutcomeFailure}, StatusStgValidateFailed},
		{Transition{Op: OpBuild, Env: collaborator.EnvStaged, Outcome: OutcomeSuccess}, StatusStgValidated},
		{Transition{Op: OpBuild, Env: collaborator.EnvPublished, Outcome: OutcomeFailure}, StatusProdValidateFailed},
		{Transition{Op: OpValidate, Env: collaborator.EnvStaged, Outcome: OutcomeRetryable, Prior: StatusStaged}, StatusStaged},
	}
	for _, c := range cases {
		got, err := NextStatus(c.tr)
		require.NoError(t, err, "%+v", c.tr)
		assert.Equal(t, c.want, got, "%+v", c.tr)
	}
}

func TestNextStatusErrors(t *testing.T) {
	_, err := NextStatus(Transition{Op: OpCreate, Env: collaborator.EnvLocal, Outcome: OutcomeSuccess})
	assert.Error(t, err)
	_, err = NextStatus(Transition{Op: OpDelete, Env: collaborator.EnvStaged, Outcome: OutcomeFailure})
	assert.Error(t, err, "delete failure needs the prior status")
	_, err = NextStatus(Transition{Op: "promote", Env: collaborator.EnvStaged, Outcome: OutcomeSuccess})
	assert.Error(t, err)
}

func TestFailureStatusesAllowRetryOfSameOperation(t *testing.T) {
	for _, env := range envs {
		cf, _ := NextStatus(Transition{Op: OpCreate, Env: env, Outcome: OutcomeFailure})
		assert.True(t, IsAllowedForCreate(env, cf))
		uf, _ := NextStatus(Transition{Op: OpUpdate, Env: env, Outcome: OutcomeFailure})
		assert.True(t, IsAllowedForUpdate(env, uf))
		vf, _ := NextStatus(Transition{Op: OpValidate, Env: env, Outcome: OutcomeFailure})
		assert.True(t, IsAllowedForCreate(env, vf), "validate failure must allow create again")
	}
}

func TestStatusEnvAndString(t *testing.T) {
	assert.Equal(t, collaborator.EnvLocal, StatusLocalDraft.Env())
	assert.Equal(t, collaborator.EnvStaged, StatusStgValidated.Env())
	assert.Equal(t, collaborator.EnvPublished, StatusProdCreatePending.Env())
	assert.Equal(t, collaborator.Env(""), StatusRetired.Env())
	assert.Equal(t, "stg-create-failed", StatusStgCreateFailed.String())
	assert.Equal(t, "status(7)", Status(7).String())
}
