package internal

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"climbcrew/internal/apperr"
	"climbcrew/internal/crew"
)

// ------------------- Profile -------------------

// POST /api/me/profile
func CompleteProfile(crews *crew.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req profileRequest
		if !bind(c, &req) {
			return
		}
		p, err := crews.CompleteProfile(c.Request.Context(), uid(c), req.Nickname)
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "profile.complete")
		c.JSON(http.StatusOK, p)
	}
}

// ------------------- Crews -------------------

// POST /api/crews
func CreateCrew(crews *crew.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createCrewRequest
		if !bind(c, &req) {
			return
		}
		created, err := crews.Create(c.Request.Context(), uid(c), crew.CreateInput{
			Name:       req.Name,
			Visibility: crew.Visibility(req.Visibility),
			MaxMembers: req.MaxMembers,
		})
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "crew.create", "crew_id", created.ID)
		c.JSON(http.StatusCreated, crewView{Crew: created, InviteCode: created.InviteCode, Role: crew.RoleLeader})
	}
}

// GET /api/crews/:id
// Private crews are visible to members only; the shareable code only to
// leaders and admins.
func GetCrew(crews *crew.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		crewID, ok := paramID(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		found, err := crews.Get(ctx, crewID)
		if err != nil {
			renderError(c, err)
			return
		}
		role, err := crews.RoleOf(ctx, crewID, uid(c))
		if err != nil && apperr.CodeOf(err) != apperr.CodeNotMember {
			renderError(c, err)
			return
		}
		if role == "" && found.Visibility == crew.Private {
			renderError(c, apperr.Forbidden(apperr.CodeCrewPrivate, "this crew is private"))
			return
		}

		view := crewView{Crew: found, Role: role}
		if role.CanManage() {
			view.InviteCode = found.InviteCode
		}
		c.JSON(http.StatusOK, view)
	}
}

// GET /api/crews/:id/members
func ListMembers(crews *crew.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		crewID, ok := paramID(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if _, err := crews.RoleOf(ctx, crewID, uid(c)); err != nil {
			renderError(c, err)
			return
		}
		members, err := crews.Members(ctx, crewID)
		if err != nil {
			renderError(c, err)
			return
		}
		if members == nil {
			members = []crew.Membership{}
		}
		c.JSON(http.StatusOK, members)
	}
}

// POST /api/crews/:id/join
func JoinPublicCrew(crews *crew.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		crewID, ok := paramID(c, "id")
		if !ok {
			return
		}
		m, err := crews.JoinPublic(c.Request.Context(), crewID, uid(c))
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "crew.join", "crew_id", crewID, "via", "public")
		c.JSON(http.StatusOK, m)
	}
}

// POST /api/crews/join {code}
func JoinByCode(crews *crew.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req joinRequest
		if !bind(c, &req) {
			return
		}
		m, err := crews.JoinByInvite(c.Request.Context(), req.Code, uid(c))
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "crew.join", "crew_id", m.CrewID, "via", "code")
		c.JSON(http.StatusOK, m)
	}
}

// POST /api/crews/:id/leave
func LeaveCrew(crews *crew.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		crewID, ok := paramID(c, "id")
		if !ok {
			return
		}
		if err := crews.Leave(c.Request.Context(), crewID, uid(c)); err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "crew.leave", "crew_id", crewID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// POST /api/crews/:id/invites
func CreateInvite(crews *crew.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		crewID, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req inviteRequest
		if !bind(c, &req) {
			return
		}
		inv, err := crews.CreateInvite(c.Request.Context(), crewID, uid(c), crew.InviteInput{
			MaxUses:   req.MaxUses,
			ExpiresAt: req.ExpiresAt,
		})
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "invite.create", "crew_id", crewID, "max_uses", inv.MaxUses)
		c.JSON(http.StatusCreated, inv)
	}
}

// POST /api/crews/:id/code
func RegenerateCode(crews *crew.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		crewID, ok := paramID(c, "id")
		if !ok {
			return
		}
		updated, err := crews.RegenerateCode(c.Request.Context(), crewID, uid(c))
		if err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "crew.code", "crew_id", crewID)
		c.JSON(http.StatusOK, gin.H{"invite_code": updated.InviteCode})
	}
}

// POST /api/crews/:id/leader
func TransferLeadership(crews *crew.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		crewID, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req leaderRequest
		if !bind(c, &req) {
			return
		}
		if err := crews.TransferLeadership(c.Request.Context(), crewID, uid(c), req.UserID); err != nil {
			renderError(c, err)
			return
		}
		audit(c, logger, "crew.leader", "crew_id", crewID, "leader", req.UserID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
