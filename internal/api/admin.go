package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"time"     // Time durations

	"finance_tracker/internal/domain"
	"finance_tracker/internal/realtime"
	"finance_tracker/internal/store"
	"finance_tracker/internal/utils"

	"github.com/gin-gonic/gin" // Gin web framework
	"github.com/sirupsen/logrus"
)

const adminUsersTTL = 60 * time.Second

// PresenceLister reports who is connected right now
type PresenceLister interface {
	Online() []realtime.Presence
}

// UserAdminResponse represents the user data returned to admin
type UserAdminResponse struct {
	ID       uint   `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Online   bool   `json:"online"`
}

// UserPage is one page of the admin user listing
type UserPage struct {
	Users      []UserAdminResponse `json:"users"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
	Total      int64               `json:"total"`
	TotalPages int                 `json:"total_pages"`
	Cached     bool                `json:"cached"`
}

// ListUsersHandler returns all users with their role and whether they are connected.
// Pages are cached for a minute; the online flag is always live.
func ListUsersHandler(st *store.Store, cache *utils.Cache, presence PresenceLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		page := 1      // Default page number
		pageSize := 20 // Default page size
		if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
			page = v
		}
		if v, err := strconv.Atoi(c.Query("page_size")); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
		cacheKey := "admin:users:page=" + strconv.Itoa(page) + ":size=" + strconv.Itoa(pageSize)

		var resp UserPage
		found, err := cache.Get(ctx, cacheKey, &resp)
		if err != nil {
			logrus.WithFields(logrus.Fields{"key": cacheKey, "error": err.Error()}).Warn("Cache operation failed")
		}
		if found {
			resp.Cached = true
		} else {
			users, total, err := st.ListUsers(ctx, page, pageSize)
			if err != nil {
				respondError(c, err)
				return
			}
			resp = UserPage{
				Users:      make([]UserAdminResponse, len(users)),
				Page:       page,
				PageSize:   pageSize,
				Total:      total,
				TotalPages: (int(total) + pageSize - 1) / pageSize,
			}
			for i, u := range users {
				resp.Users[i] = adminView(u)
			}
			if err := cache.Set(ctx, cacheKey, resp, adminUsersTTL); err != nil {
				logrus.WithFields(logrus.Fields{"key": cacheKey, "error": err.Error()}).Warn("Cache operation failed")
			}
		}

		online := make(map[uint]bool)
		for _, p := range presence.Online() {
			online[p.User.ID] = true
		}
		for i := range resp.Users {
			resp.Users[i].Online = online[resp.Users[i].ID]
		}
		c.JSON(http.StatusOK, resp)
	}
}

func adminView(u domain.User) UserAdminResponse {
	return UserAdminResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

// PresenceHandler returns the live presence table
func PresenceHandler(presence PresenceLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		online := presence.Online()
		if online == nil {
			online = []realtime.Presence{}
		}
		c.JSON(http.StatusOK, gin.H{"online": online, "count": len(online)})
	}
}
