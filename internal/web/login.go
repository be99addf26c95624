package web

import (
	"net/http"

	"github.com/renderinc/pagekeeper/internal/auth"
	"github.com/renderinc/pagekeeper/internal/logger"
)

const afterLogin = "/upload"

type loginPage struct {
	layout
	Next     string
	Username string
	Error    string
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "login.html", loginPage{
		layout: s.layout(r, "Log in"),
		Next:   auth.SafeNext(r.URL.Query().Get("next"), afterLogin),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	next := auth.SafeNext(r.PostFormValue("next"), afterLogin)

	if err := s.opts.Credentials.Check(username, password); err != nil {
		s.logger.Warn("Login attempt failed", logger.String("username", username))
		s.render(w, http.StatusUnauthorized, "login.html", loginPage{
			layout:   layout{Title: "Log in"},
			Next:     next,
			Username: username,
			Error:    "Please enter a correct username and password.",
		})
		return
	}

	token, err := s.opts.Sessions.GenerateToken(username)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.opts.Sessions.SetSession(w, token, s.opts.SecureCookie)

	s.logger.Info("User logged in", logger.String("username", username))
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w, s.opts.SecureCookie)
	http.Redirect(w, r, "/search", http.StatusSeeOther)
}
