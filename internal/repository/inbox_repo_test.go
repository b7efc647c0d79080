package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atsinbox/internal/model"
)

func TestBuildInboxWhere(t *testing.T) {
	where, args := buildInboxWhere(model.InboxFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = buildInboxWhere(model.InboxFilter{ToEmail: " jobs@example.com ", Search: "50%_off"})
	assert.Equal(t, " WHERE to_email = $1 AND (subject ILIKE $2 OR from_email ILIKE $2 OR snippet ILIKE $2)", where)
	assert.Equal(t, []any{"jobs@example.com", `%50\%\_off%`}, args)

	where, args = buildInboxWhere(model.InboxFilter{Search: "indeed"})
	assert.Equal(t, " WHERE (subject ILIKE $1 OR from_email ILIKE $1 OR snippet ILIKE $1)", where)
	assert.Equal(t, []any{"%indeed%"}, args)
}

func TestBuildPatch(t *testing.T) {
	status := "ng"
	empty := ""
	mail := "non_application"

	set, args := buildPatch(model.InboxPatch{Status: &status, JobID: &empty, MailType: &mail})
	assert.Equal(t, "status = $1, job_id = $2, mail_type = $3, updated_at = NOW()", set)
	assert.Equal(t, "ng", args[0])
	assert.Nil(t, args[1], "empty job id clears the link")
	assert.Equal(t, "non_application", args[2])

	company := "C9"
	set, args = buildPatch(model.InboxPatch{CompanyID: &company})
	assert.Equal(t, "company_id = $1, updated_at = NOW()", set)
	assert.Equal(t, "C9", *(args[0].(*string)))
}

func TestInboxRepository_MalformedIDIsNotFound(t *testing.T) {
	// no pool: a malformed id must be answered before any query runs
	repo := NewInboxRepository(nil)
	ctx := context.Background()

	m, err := repo.FindByID(ctx, "J1")
	require.NoError(t, err)
	assert.Nil(t, m)

	status := "ng"
	m, err = repo.Patch(ctx, "not-a-uuid", model.InboxPatch{Status: &status})
	require.NoError(t, err)
	assert.Nil(t, m)

	changed, err := repo.PromoteIfNew(ctx, "")
	require.NoError(t, err)
	assert.False(t, changed)

	assert.True(t, isRowID("7f1c1e0a-4f7b-4f43-9c55-3e1a8c2b9d10"))
}
