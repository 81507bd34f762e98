package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sulaimanQasimi/cid-sub001/internal/auth"
	"github.com/sulaimanQasimi/cid-sub001/internal/authpw"
	"github.com/sulaimanQasimi/cid-sub001/internal/config"
	"github.com/sulaimanQasimi/cid-sub001/internal/email"
	"github.com/sulaimanQasimi/cid-sub001/internal/history"
	"github.com/sulaimanQasimi/cid-sub001/internal/rbac"
	"github.com/sulaimanQasimi/cid-sub001/internal/relay"
	"github.com/sulaimanQasimi/cid-sub001/internal/search"
	"github.com/sulaimanQasimi/cid-sub001/internal/store"
	"github.com/sulaimanQasimi/cid-sub001/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListIncidentReports(context.Context) ([]store.IncidentReport, error)
	GetIncidentReport(context.Context, string) (store.IncidentReport, error)
	InsertIncidentReport(context.Context, store.IncidentReport) error
	UpdateIncidentReport(context.Context, store.IncidentReport) error
	DeleteIncidentReport(context.Context, string) error

	GrantAccess(context.Context, store.AccessGrant) (store.AccessGrant, error)
	GetGrant(context.Context, string) (store.AccessGrant, error)
	ListGrants(context.Context, string, string) ([]store.AccessGrant, error)
	FindValidGrant(context.Context, string, string) (store.AccessGrant, error)
	RevokeUserGrants(context.Context, string) (int, error)
	DeactivateGrant(context.Context, string) error
	ExtendGrant(context.Context, string, int) (store.AccessGrant, error)

	ListMeetings(context.Context) ([]store.Meeting, error)
	GetMeeting(context.Context, string) (store.Meeting, error)
	InsertMeeting(context.Context, store.Meeting) error
	UpdateMeeting(context.Context, store.Meeting) error
	DeleteMeeting(context.Context, string) error
	AddParticipant(context.Context, string, string, string) error
	RemoveParticipant(context.Context, string, string) error
	IsParticipant(context.Context, string, string) (bool, error)
	ListParticipants(context.Context, string) ([]store.MeetingParticipant, error)
	InsertMeetingMessage(context.Context, store.MeetingMessage) error
	ListMeetingMessages(context.Context, string, int) ([]store.MeetingMessage, error)

	UpsertMeetingSession(context.Context, string, string, string, string) (store.MeetingSession, error)
	GetMeetingSession(context.Context, string) (store.MeetingSession, error)
	GetSessionByPeer(context.Context, string, string) (store.MeetingSession, error)
	ListActivePeers(context.Context, string, string, time.Time) ([]store.ActivePeer, error)
	EndMeetingSession(context.Context, string, string) error
	TouchMeetingSession(context.Context, string, string) error
	UpsertPeerConnection(context.Context, string, string, string) error
	ListPeerConnections(context.Context, string) ([]store.PeerConnection, error)
	AppendIceCandidate(context.Context, string, json.RawMessage) error
	InsertPendingSignal(context.Context, store.PendingSignal) error
	DrainPendingSignals(context.Context, string, string) ([]store.PendingSignal, error)

	ListDepartments(context.Context) ([]store.Department, error)
	GetDepartment(context.Context, string) (store.Department, error)
	InsertDepartment(context.Context, store.Department) error
	UpdateDepartment(context.Context, string, string, string) error
	DeleteDepartment(context.Context, string) error

	SummaryCounts(context.Context) (int, int, int, error)
}

// sessionStore holds refresh sessions. Redis when configured, otherwise the
// Postgres store satisfies the same interface.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type historyService interface {
	EnsureReportRepo(reportID string, initial history.Narrative, author string) error
	CommitNarrative(reportID string, narrative history.Narrative, author, message string) (store.CommitInfo, error)
	History(reportID string, limit int) ([]store.CommitInfo, error)
	GetNarrativeByHash(reportID, hash string) (history.Narrative, error)
}

// signalBus is the live delivery path for meeting traffic. Publish returns
// the live subscriber count so callers can fall back to the durable queue.
type signalBus interface {
	PublishSignal(ctx context.Context, env relay.Envelope) (int64, error)
	PublishChat(ctx context.Context, meetingID string, payload json.RawMessage) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexReport(r search.ReportRecord)
	IndexMeeting(m search.MeetingRecord)
	DeleteReport(id string)
	DeleteMeeting(id string)
	ReindexAllFromPG(ctx context.Context)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	history  historyService
	search   searchService
	bus      signalBus
	authpw   *authpw.Service
	email    *email.Service
}

func New(cfg config.Config, db *store.PostgresStore, historySvc *history.Service, searchSvc *search.Service, bus *relay.Bus) *Service {
	s := &Service{
		cfg:      cfg,
		store:    db,
		sessions: db,
		history:  historySvc,
		search:   searchSvc,
		authpw:   authpw.NewService(db),
		email: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}
	if bus != nil {
		s.bus = bus
	}
	return s
}

// NewWithSessionStore uses a dedicated refresh-session backend (Redis).
func NewWithSessionStore(cfg config.Config, db *store.PostgresStore, sessions sessionStore, historySvc *history.Service, searchSvc *search.Service, bus *relay.Bus) *Service {
	s := New(cfg, db, historySvc, searchSvc, bus)
	s.sessions = sessions
	return s
}

func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) EmailService() *email.Service {
	return s.email
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues access and refresh tokens for an authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// One-shot refresh tokens: the old one dies with the rotation.
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	reports, meetings, activeGrants, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"reports":      reports,
		"meetings":     meetings,
		"activeGrants": activeGrants,
	}, nil
}

// Search runs a full-text query. Restricted reports are included only for
// roles that can grant access (supervisors and admins see everything).
func (s *Service) Search(ctx context.Context, text, filterType string, limit, offset int, role string) (search.Response, error) {
	includeRestricted := s.Can(role, rbac.ActionGrant)
	return s.search.Search(search.Query{
		Text:              text,
		FilterType:        search.ResultType(filterType),
		Limit:             limit,
		Offset:            offset,
		IncludeRestricted: includeRestricted,
	}), nil
}
