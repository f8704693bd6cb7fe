package service

import (
	"testing"
	"time"

	"go-annotation-service/internal/model"
	"go-annotation-service/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeThread(authorID uint) *model.Annotation {
	return &model.Annotation{
		FileID:         "file1",
		AnnotationID:   "ann1",
		Kind:           model.KindThread,
		State:          model.StateActive,
		AuthorID:       authorID,
		LastActivityAt: time.Now(),
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from model.AnnotationState
		to   model.AnnotationState
		want bool
	}{
		{"active to resolved", model.StateActive, model.StateResolved, true},
		{"active to deleted", model.StateActive, model.StateDeleted, true},
		{"resolved to active", model.StateResolved, model.StateActive, true},
		{"resolved to deleted", model.StateResolved, model.StateDeleted, true},
		{"deleted to active", model.StateDeleted, model.StateActive, false},
		{"deleted to resolved", model.StateDeleted, model.StateResolved, false},
		{"active to active", model.StateActive, model.StateActive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestAuthorizeUpdate_DeletedIsTerminal(t *testing.T) {
	a := activeThread(1)
	a.State = model.StateDeleted

	state := model.StateActive
	err := AuthorizeUpdate(a, &AnnotationPatch{State: &state}, Actor{ID: 1}, false)
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstNotFound, err.Constant)
}

func TestAuthorizeUpdate_UnknownStateRejected(t *testing.T) {
	a := activeThread(1)
	state := model.AnnotationState("ARCHIVED")
	err := AuthorizeUpdate(a, &AnnotationPatch{State: &state}, Actor{ID: 1}, false)
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstBadRequest, err.Constant)
}

func TestAuthorizeUpdate_ResolveByNonAuthor(t *testing.T) {
	a := activeThread(1)
	state := model.StateResolved
	// 任何完整权限持有者都可以归档
	err := AuthorizeUpdate(a, &AnnotationPatch{State: &state}, Actor{ID: 2}, false)
	assert.Nil(t, err)
}

func TestAuthorizeUpdate_TokenActorLimitedToOwn(t *testing.T) {
	a := activeThread(1)
	state := model.StateResolved

	err := AuthorizeUpdate(a, &AnnotationPatch{State: &state}, Actor{ID: 2, TokenScoped: true}, false)
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstForbidden, err.Constant)

	// 自己创建的可以
	err = AuthorizeUpdate(a, &AnnotationPatch{State: &state}, Actor{ID: 1, TokenScoped: true}, false)
	assert.Nil(t, err)
}

func TestAuthorizeUpdate_ResolvedLock(t *testing.T) {
	a := activeThread(1)
	a.State = model.StateResolved

	title := "new title"
	err := AuthorizeUpdate(a, &AnnotationPatch{Title: &title}, Actor{ID: 1}, false)
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstBadRequest, err.Constant)

	// 同一请求转回ACTIVE时放行
	state := model.StateActive
	err = AuthorizeUpdate(a, &AnnotationPatch{Title: &title, State: &state}, Actor{ID: 1}, false)
	assert.Nil(t, err)
}

func TestAuthorizeUpdate_TitleIsAuthorProtected(t *testing.T) {
	a := activeThread(1)
	title := "new title"

	err := AuthorizeUpdate(a, &AnnotationPatch{Title: &title}, Actor{ID: 2}, true)
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstForbidden, err.Constant)

	err = AuthorizeUpdate(a, &AnnotationPatch{Title: &title}, Actor{ID: 1}, false)
	assert.Nil(t, err)
}

func TestAuthorizeUpdate_StructuralEditsForCoEditor(t *testing.T) {
	a := activeThread(1)
	patch := &AnnotationPatch{AddEntities: []string{"h1"}}

	// 没参与过的非作者不行
	err := AuthorizeUpdate(a, patch, Actor{ID: 2}, false)
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstForbidden, err.Constant)

	// 在该批注下评论过的协作者可以
	err = AuthorizeUpdate(a, patch, Actor{ID: 2}, true)
	assert.Nil(t, err)
}

func TestAuthorizeUpdate_DeleteViaUpdateRejected(t *testing.T) {
	a := activeThread(1)
	state := model.StateDeleted
	err := AuthorizeUpdate(a, &AnnotationPatch{State: &state}, Actor{ID: 1}, false)
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstBadRequest, err.Constant)
}

func TestAuthorizeDelete_AuthorOnly(t *testing.T) {
	a := activeThread(1)

	err := AuthorizeDelete(a, Actor{ID: 2})
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstForbidden, err.Constant)

	assert.Nil(t, AuthorizeDelete(a, Actor{ID: 1}))

	a.State = model.StateDeleted
	err = AuthorizeDelete(a, Actor{ID: 1})
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstNotFound, err.Constant)
}

func TestAuthorizeAddComment(t *testing.T) {
	a := activeThread(1)
	assert.Nil(t, AuthorizeAddComment(a))

	a.State = model.StateResolved
	err := AuthorizeAddComment(a)
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstConflict, err.Constant)

	a.State = model.StateDeleted
	err = AuthorizeAddComment(a)
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstNotFound, err.Constant)

	err = AuthorizeAddComment(nil)
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstNotFound, err.Constant)
}

func TestAuthorizeCommentEdit(t *testing.T) {
	c := &model.Comment{AnnotationID: "ann1", CommentID: "c1", AuthorID: 1, State: model.StateActive}

	err := AuthorizeCommentEdit(c, Actor{ID: 2})
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstForbidden, err.Constant)

	assert.Nil(t, AuthorizeCommentEdit(c, Actor{ID: 1}))

	c.State = model.StateDeleted
	err = AuthorizeCommentEdit(c, Actor{ID: 1})
	require.NotNil(t, err)
	assert.Equal(t, apperr.ConstNotFound, err.Constant)
}

func TestApplyEntityDelta(t *testing.T) {
	handles := applyEntityDelta([]string{"a", "b", "c"}, []string{"d", "b"}, []string{"c"})
	assert.Equal(t, []string{"a", "b", "d"}, handles)
}
