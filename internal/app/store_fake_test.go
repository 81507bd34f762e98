package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sulaimanQasimi/cid-sub001/internal/authpw"
	"github.com/sulaimanQasimi/cid-sub001/internal/config"
	"github.com/sulaimanQasimi/cid-sub001/internal/relay"
	"github.com/sulaimanQasimi/cid-sub001/internal/store"
)

type refreshRecord struct {
	user      store.User
	expiresAt time.Time
}

// fakeStore is an in-memory dataStore, sessionStore, and authpw.UserStore.
type fakeStore struct {
	mu sync.Mutex

	users        map[string]store.User
	resets       map[string]string
	reports      map[string]store.IncidentReport
	grants       map[string]store.AccessGrant
	meetings     map[string]store.Meeting
	participants map[string]map[string]bool
	messages     []store.MeetingMessage
	sessions     map[string]store.MeetingSession
	peerConns    map[string]map[string]store.PeerConnection
	candidates   map[string][]json.RawMessage
	pending      []store.PendingSignal
	pendingSeq   int64
	refresh      map[string]refreshRecord
	revokedJTI   map[string]bool
	departments  map[string]store.Department

	pingFn func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        map[string]store.User{},
		resets:       map[string]string{},
		reports:      map[string]store.IncidentReport{},
		grants:       map[string]store.AccessGrant{},
		meetings:     map[string]store.Meeting{},
		participants: map[string]map[string]bool{},
		sessions:     map[string]store.MeetingSession{},
		peerConns:    map[string]map[string]store.PeerConnection{},
		candidates:   map[string][]json.RawMessage{},
		refresh:      map[string]refreshRecord{},
		revokedJTI:   map[string]bool{},
		departments:  map[string]store.Department{},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// ── users / auth ──

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTI[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTI[jti], nil
}

// ── refresh sessions ──

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = refreshRecord{user: user, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.refresh[tokenHash]
	if !ok || record.expiresAt.Before(time.Now()) {
		return store.User{}, sql.ErrNoRows
	}
	return record.user, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

// ── incident reports ──

func (f *fakeStore) ListIncidentReports(_ context.Context) ([]store.IncidentReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.IncidentReport, 0, len(f.reports))
	for _, report := range f.reports {
		items = append(items, report)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetIncidentReport(_ context.Context, id string) (store.IncidentReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	report, ok := f.reports[id]
	if !ok {
		return store.IncidentReport{}, sql.ErrNoRows
	}
	return report, nil
}

func (f *fakeStore) InsertIncidentReport(_ context.Context, report store.IncidentReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[report.ID] = report
	return nil
}

func (f *fakeStore) UpdateIncidentReport(_ context.Context, report store.IncidentReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reports[report.ID]; !ok {
		return sql.ErrNoRows
	}
	f.reports[report.ID] = report
	return nil
}

func (f *fakeStore) DeleteIncidentReport(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reports[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.reports, id)
	return nil
}

// ── access grants ──

func sameScope(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func (f *fakeStore) GrantAccess(_ context.Context, grant store.AccessGrant) (store.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for id, existing := range f.grants {
		if existing.UserID != grant.UserID || !existing.IsActive {
			continue
		}
		if existing.Valid(now) {
			if sameScope(existing.IncidentReportID, grant.IncidentReportID) {
				return store.AccessGrant{}, store.ErrActiveGrantExists
			}
			if existing.IncidentReportID == nil && grant.IncidentReportID != nil {
				return store.AccessGrant{}, store.ErrGlobalGrantConflict
			}
		}
		if grant.IncidentReportID == nil || sameScope(existing.IncidentReportID, grant.IncidentReportID) {
			existing.IsActive = false
			f.grants[id] = existing
		}
	}
	grant.CreatedAt = now
	grant.UpdatedAt = now
	f.grants[grant.ID] = grant
	return grant, nil
}

func (f *fakeStore) GetGrant(_ context.Context, id string) (store.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	grant, ok := f.grants[id]
	if !ok {
		return store.AccessGrant{}, sql.ErrNoRows
	}
	return grant, nil
}

func (f *fakeStore) ListGrants(_ context.Context, userID, reportID string) ([]store.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.AccessGrant, 0)
	for _, grant := range f.grants {
		if userID != "" && grant.UserID != userID {
			continue
		}
		if reportID != "" && (grant.IncidentReportID == nil || *grant.IncidentReportID != reportID) {
			continue
		}
		items = append(items, grant)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) FindValidGrant(_ context.Context, userID, reportID string) (store.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var global *store.AccessGrant
	for id := range f.grants {
		grant := f.grants[id]
		if grant.UserID != userID || !grant.IsActive {
			continue
		}
		if grant.IncidentReportID != nil && *grant.IncidentReportID == reportID {
			return grant, nil
		}
		if grant.IncidentReportID == nil {
			g := grant
			global = &g
		}
	}
	if global != nil {
		return *global, nil
	}
	return store.AccessGrant{}, sql.ErrNoRows
}

func (f *fakeStore) RevokeUserGrants(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for id, grant := range f.grants {
		if grant.UserID == userID && grant.IsActive {
			grant.IsActive = false
			f.grants[id] = grant
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) DeactivateGrant(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	grant, ok := f.grants[id]
	if !ok {
		return sql.ErrNoRows
	}
	grant.IsActive = false
	f.grants[id] = grant
	return nil
}

func (f *fakeStore) ExtendGrant(_ context.Context, id string, days int) (store.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	grant, ok := f.grants[id]
	if !ok {
		return store.AccessGrant{}, sql.ErrNoRows
	}
	base := time.Now()
	if grant.ExpiresAt != nil {
		base = *grant.ExpiresAt
	}
	next := base.AddDate(0, 0, days)
	grant.ExpiresAt = &next
	f.grants[id] = grant
	return grant, nil
}

// ── meetings ──

func (f *fakeStore) ListMeetings(_ context.Context) ([]store.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Meeting, 0, len(f.meetings))
	for _, meeting := range f.meetings {
		items = append(items, meeting)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetMeeting(_ context.Context, id string) (store.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meeting, ok := f.meetings[id]
	if !ok {
		return store.Meeting{}, sql.ErrNoRows
	}
	return meeting, nil
}

func (f *fakeStore) InsertMeeting(_ context.Context, meeting store.Meeting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meetings[meeting.ID] = meeting
	return nil
}

func (f *fakeStore) UpdateMeeting(_ context.Context, meeting store.Meeting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.meetings[meeting.ID]; !ok {
		return sql.ErrNoRows
	}
	f.meetings[meeting.ID] = meeting
	return nil
}

func (f *fakeStore) DeleteMeeting(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.meetings[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.meetings, id)
	return nil
}

func (f *fakeStore) AddParticipant(_ context.Context, meetingID, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.participants[meetingID] == nil {
		f.participants[meetingID] = map[string]bool{}
	}
	f.participants[meetingID][userID] = true
	return nil
}

func (f *fakeStore) RemoveParticipant(_ context.Context, meetingID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.participants[meetingID], userID)
	return nil
}

func (f *fakeStore) IsParticipant(_ context.Context, meetingID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.participants[meetingID][userID], nil
}

func (f *fakeStore) ListParticipants(_ context.Context, meetingID string) ([]store.MeetingParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.MeetingParticipant, 0)
	for userID := range f.participants[meetingID] {
		items = append(items, store.MeetingParticipant{
			MeetingID:   meetingID,
			UserID:      userID,
			DisplayName: f.users[userID].DisplayName,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UserID < items[j].UserID })
	return items, nil
}

func (f *fakeStore) InsertMeetingMessage(_ context.Context, message store.MeetingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeStore) ListMeetingMessages(_ context.Context, meetingID string, limit int) ([]store.MeetingMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.MeetingMessage, 0)
	for _, message := range f.messages {
		if message.MeetingID == meetingID {
			items = append(items, message)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ── signaling ──

func (f *fakeStore) UpsertMeetingSession(_ context.Context, sessionID, meetingID, userID, peerID string) (store.MeetingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for id, existing := range f.sessions {
		if existing.MeetingID == meetingID && existing.UserID == userID {
			existing.PeerID = peerID
			existing.StartedAt = now
			existing.EndedAt = nil
			existing.LastSeenAt = now
			f.sessions[id] = existing
			return existing, nil
		}
	}
	created := store.MeetingSession{
		ID:         sessionID,
		MeetingID:  meetingID,
		UserID:     userID,
		PeerID:     peerID,
		StartedAt:  now,
		LastSeenAt: now,
	}
	f.sessions[sessionID] = created
	return created, nil
}

func (f *fakeStore) GetMeetingSession(_ context.Context, sessionID string) (store.MeetingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return store.MeetingSession{}, sql.ErrNoRows
	}
	return session, nil
}

func (f *fakeStore) GetSessionByPeer(_ context.Context, meetingID, peerID string) (store.MeetingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.MeetingID == meetingID && session.PeerID == peerID && session.EndedAt == nil {
			return session, nil
		}
	}
	return store.MeetingSession{}, sql.ErrNoRows
}

func (f *fakeStore) ListActivePeers(_ context.Context, meetingID, excludeUserID string, staleBefore time.Time) ([]store.ActivePeer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.ActivePeer, 0)
	for _, session := range f.sessions {
		if session.MeetingID != meetingID || session.UserID == excludeUserID {
			continue
		}
		if session.EndedAt != nil || !session.LastSeenAt.After(staleBefore) {
			continue
		}
		items = append(items, store.ActivePeer{
			SessionID:   session.ID,
			UserID:      session.UserID,
			DisplayName: f.users[session.UserID].DisplayName,
			PeerID:      session.PeerID,
			StartedAt:   session.StartedAt,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PeerID < items[j].PeerID })
	return items, nil
}

func (f *fakeStore) EndMeetingSession(_ context.Context, sessionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || session.UserID != userID {
		return sql.ErrNoRows
	}
	now := time.Now()
	session.EndedAt = &now
	f.sessions[sessionID] = session
	return nil
}

func (f *fakeStore) TouchMeetingSession(_ context.Context, sessionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || session.UserID != userID || session.EndedAt != nil {
		return sql.ErrNoRows
	}
	session.LastSeenAt = time.Now()
	f.sessions[sessionID] = session
	return nil
}

func (f *fakeStore) UpsertPeerConnection(_ context.Context, sessionID, peerID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peerConns[sessionID] == nil {
		f.peerConns[sessionID] = map[string]store.PeerConnection{}
	}
	f.peerConns[sessionID][peerID] = store.PeerConnection{
		SessionID:    sessionID,
		PeerID:       peerID,
		Status:       status,
		LastActivity: time.Now(),
	}
	return nil
}

func (f *fakeStore) ListPeerConnections(_ context.Context, sessionID string) ([]store.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.PeerConnection, 0)
	for _, conn := range f.peerConns[sessionID] {
		items = append(items, conn)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PeerID < items[j].PeerID })
	return items, nil
}

func (f *fakeStore) AppendIceCandidate(_ context.Context, sessionID string, candidate json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates[sessionID] = append(f.candidates[sessionID], candidate)
	return nil
}

func (f *fakeStore) InsertPendingSignal(_ context.Context, sig store.PendingSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingSeq++
	sig.ID = f.pendingSeq
	f.pending = append(f.pending, sig)
	return nil
}

func (f *fakeStore) DrainPendingSignals(_ context.Context, meetingID, receiverPeerID string) ([]store.PendingSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	drained := make([]store.PendingSignal, 0)
	for i := range f.pending {
		sig := &f.pending[i]
		if sig.MeetingID == meetingID && sig.ReceiverPeerID == receiverPeerID && sig.DeliveredAt == nil {
			sig.DeliveredAt = &now
			drained = append(drained, *sig)
		}
	}
	sort.Slice(drained, func(i, j int) bool { return drained[i].ID < drained[j].ID })
	return drained, nil
}

// ── departments / summary ──

func (f *fakeStore) ListDepartments(_ context.Context) ([]store.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Department, 0, len(f.departments))
	for _, department := range f.departments {
		items = append(items, department)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetDepartment(_ context.Context, id string) (store.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	department, ok := f.departments[id]
	if !ok {
		return store.Department{}, sql.ErrNoRows
	}
	return department, nil
}

func (f *fakeStore) InsertDepartment(_ context.Context, department store.Department) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.departments[department.ID] = department
	return nil
}

func (f *fakeStore) UpdateDepartment(_ context.Context, id, name, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	department, ok := f.departments[id]
	if !ok {
		return sql.ErrNoRows
	}
	department.Name = name
	department.Code = code
	f.departments[id] = department
	return nil
}

func (f *fakeStore) DeleteDepartment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.departments[id]; !ok {
		return sql.ErrNoRows
	}
	for _, report := range f.reports {
		if report.DepartmentID == id {
			return fmt.Errorf("%w: 1", store.ErrDepartmentNotEmpty)
		}
	}
	delete(f.departments, id)
	return nil
}

func (f *fakeStore) SummaryCounts(_ context.Context) (int, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	activeGrants := 0
	now := time.Now()
	for _, grant := range f.grants {
		if grant.Valid(now) {
			activeGrants++
		}
	}
	return len(f.reports), len(f.meetings), activeGrants, nil
}

// ── fake collaborators ──

type fakeBus struct {
	mu          sync.Mutex
	subscribers int64
	published   []relay.Envelope
	chats       []json.RawMessage
	failPublish error
}

func (b *fakeBus) PublishSignal(_ context.Context, env relay.Envelope) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPublish != nil {
		return 0, b.failPublish
	}
	if b.subscribers > 0 {
		b.published = append(b.published, env)
	}
	return b.subscribers, nil
}

func (b *fakeBus) PublishChat(_ context.Context, _ string, payload json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chats = append(b.chats, payload)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	cfg := config.Config{
		TokenSecret:  "test-secret",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   24 * time.Hour,
		SessionTTL:   90 * time.Second,
		ClockSkewTol: 5 * time.Minute,
	}
	return &Service{
		cfg:      cfg,
		store:    fs,
		sessions: fs,
		authpw:   authpw.NewService(fs),
	}
}

func seedUser(fs *fakeStore, id, name, role string) Session {
	fs.users[id] = store.User{
		ID:              id,
		DisplayName:     name,
		Email:           id + "@records.cid.local",
		Role:            role,
		IsEmailVerified: true,
	}
	return Session{UserID: id, UserName: name, Role: role}
}
