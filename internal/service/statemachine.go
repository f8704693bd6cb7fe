package service

import (
	"go-annotation-service/internal/model"
	"go-annotation-service/pkg/apperr"
)

// Actor 一次操作的发起者 TokenScoped表示通过分享链接进入
type Actor struct {
	ID          uint
	SessionID   string
	Device      string
	Org         string
	Token       string
	TokenScoped bool
}

// 批注状态转移表 DELETED为终态 没有出边（不可恢复删除）
var transitions = map[model.AnnotationState]map[model.AnnotationState]bool{
	model.StateActive: {
		model.StateResolved: true,
		model.StateDeleted:  true,
	},
	model.StateResolved: {
		model.StateActive:  true,
		model.StateDeleted: true,
	},
	model.StateDeleted: {},
}

// CanTransition 判断状态转移是否合法
func CanTransition(from, to model.AnnotationState) bool {
	return transitions[from][to]
}

// AnnotationPatch 批注更新请求的归一化形式 nil表示不改
type AnnotationPatch struct {
	Title          *string
	State          *model.AnnotationState
	AddEntities    []string
	RemoveEntities []string
	SpaceID        *string
	ViewportID     *string
}

func (p *AnnotationPatch) touchesTitle() bool {
	return p.Title != nil
}

func (p *AnnotationPatch) touchesStructure() bool {
	return len(p.AddEntities) > 0 || len(p.RemoveEntities) > 0 || p.SpaceID != nil || p.ViewportID != nil
}

func (p *AnnotationPatch) reactivates() bool {
	return p.State != nil && *p.State == model.StateActive
}

// AuthorizeUpdate 批注更新的状态与字段级授权
// hasCommented 为放宽的协作编辑检查结果：在该批注下发表过评论的非作者
// 可以修改结构字段（实体句柄/spaceId/viewportId）
func AuthorizeUpdate(a *model.Annotation, patch *AnnotationPatch, actor Actor, hasCommented bool) *apperr.Error {
	if a == nil || a.State == model.StateDeleted {
		return apperr.NotFound("annotation not found or deleted")
	}

	// token访问者只能操作自己创建的批注
	if actor.TokenScoped && a.AuthorID != actor.ID {
		return apperr.Forbidden("token access is restricted to own annotations")
	}

	if patch.State != nil {
		if !model.ValidState(*patch.State) {
			return apperr.BadRequest("unknown annotation state")
		}
		// 删除走独立操作 携带时间戳做并发保护
		if *patch.State == model.StateDeleted {
			return apperr.BadRequest("deletion must use the delete operation")
		}
		if *patch.State != a.State && !CanTransition(a.State, *patch.State) {
			return apperr.Conflict("illegal state transition")
		}
	}

	// RESOLVED状态下除state外不可改 除非同一请求转回ACTIVE
	if a.State == model.StateResolved && !patch.reactivates() {
		if patch.touchesTitle() || patch.touchesStructure() {
			return apperr.BadRequest("resolved annotation can only be reactivated")
		}
	}

	// 标题属于作者保护字段
	if patch.touchesTitle() && a.AuthorID != actor.ID {
		return apperr.Forbidden("only the author may edit the title")
	}

	// 结构字段 作者或曾在该批注下评论过的协作者可改
	if patch.touchesStructure() && a.AuthorID != actor.ID && !hasCommented {
		return apperr.Forbidden("structural edits require authorship or prior participation")
	}

	return nil
}

// AuthorizeDelete 批注删除 任何状态下都只有作者可删
func AuthorizeDelete(a *model.Annotation, actor Actor) *apperr.Error {
	if a == nil || a.State == model.StateDeleted {
		return apperr.NotFound("annotation not found or already deleted")
	}
	if a.AuthorID != actor.ID {
		return apperr.Forbidden("only the author may delete an annotation")
	}
	return nil
}

// AuthorizeAddComment 评论只能加在非删除、非归档的批注上
// token访问者可以在任何可见批注下评论（含他人创建的线程）
func AuthorizeAddComment(a *model.Annotation) *apperr.Error {
	if a == nil || a.State == model.StateDeleted {
		return apperr.NotFound("annotation not found or deleted")
	}
	if a.State == model.StateResolved {
		return apperr.Conflict("resolved annotation does not accept new comments")
	}
	return nil
}

// AuthorizeCommentEdit 评论文本只有其作者可以改/删
func AuthorizeCommentEdit(c *model.Comment, actor Actor) *apperr.Error {
	if c == nil || c.State == model.StateDeleted {
		return apperr.NotFound("comment not found or deleted")
	}
	if c.AuthorID != actor.ID {
		return apperr.Forbidden("only the comment author may modify it")
	}
	return nil
}
