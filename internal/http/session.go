package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/auth"
	"storefront/internal/session"
)

const (
	sessionCookie = "session"
	// TokenHeader carries a freshly issued token for clients without cookies.
	TokenHeader = "X-Session-Token"

	ctxSession  = "session"
	ctxIdentity = "identity"
)

// withSession resolves the session from a Bearer token or the session
// cookie. A missing or invalid token starts a new session.
func (s *Server) withSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := s.sessionID(c)
		if sid == "" {
			sid = session.NewID()
			token, err := s.tokens.Issue(sid)
			if err != nil {
				s.fail(c, err)
				c.Abort()
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(sessionCookie, token, int(s.sessionTTL.Seconds()), "/", "", s.cookieSecure, true)
			c.Header(TokenHeader, token)
		}
		c.Set(ctxSession, session.New(s.sessions, sid, s.log))
		c.Next()
	}
}

func (s *Server) sessionID(c *gin.Context) string {
	token := ""
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if v, err := c.Cookie(sessionCookie); err == nil {
		token = v
	}
	if token == "" {
		return ""
	}
	sid, err := s.tokens.Parse(token)
	if err != nil {
		return ""
	}
	return sid
}

func sessionOf(c *gin.Context) *session.Store {
	return c.MustGet(ctxSession).(*session.Store)
}

// identityOf returns the identity checked by require, or checks it now on
// routes that are not gated.
func (s *Server) identityOf(c *gin.Context) (auth.Identity, error) {
	if id, ok := c.Get(ctxIdentity); ok {
		return id.(auth.Identity), nil
	}
	id, err := s.auth.Current(c.Request.Context(), sessionOf(c))
	if err != nil {
		return auth.Identity{}, err
	}
	c.Set(ctxIdentity, id)
	return id, nil
}

// gatedIdentity is the identity set by require.
func gatedIdentity(c *gin.Context) auth.Identity {
	return c.MustGet(ctxIdentity).(auth.Identity)
}

// require aborts with 401 and a login redirect unless the session may
// perform action.
func (s *Server) require(action auth.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.identityOf(c)
		if err != nil {
			s.fail(c, err)
			c.Abort()
			return
		}
		if err := auth.Authorize(id, action); err != nil {
			login := "/login"
			if errors.Is(err, auth.ErrAdminRequired) {
				login = "/admin/login"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    err.Error(),
				"redirect": login + "?redirect=" + url.QueryEscape(c.Request.URL.RequestURI()),
			})
			return
		}
		c.Next()
	}
}

type sessionView struct {
	Customer  any   `json:"customer"`
	Admin     any   `json:"admin"`
	CartCount int64 `json:"cart_count"`
}

// @Summary Current session
// @Tags session
// @Produce json
// @Success 200 {object} sessionView
// @Router /session [get]
func (s *Server) getSession(c *gin.Context) {
	id, err := s.identityOf(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	view := sessionView{CartCount: s.openCart(c).Count()}
	if id.Customer != nil {
		view.Customer = id.Customer
	}
	if id.Admin != nil {
		view.Admin = id.Admin
	}
	c.JSON(http.StatusOK, view)
}
