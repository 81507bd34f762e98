package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                    string     `json:"id"`
	DisplayName           string     `json:"displayName"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"-"`
	Role                  string     `json:"role"`
	BadgeNumber           string     `json:"badgeNumber"`
	IsEmailVerified       bool       `json:"isEmailVerified"`
	VerificationToken     string     `json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`
	DeactivatedAt         *time.Time `json:"deactivatedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

type Department struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type IncidentReport struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Summary         string    `json:"summary"`
	IncidentDetails string    `json:"incidentDetails"`
	Status          string    `json:"status"`
	DepartmentID    string    `json:"departmentId,omitempty"`
	Restricted      bool      `json:"restricted"`
	CreatedBy       string    `json:"createdBy"`
	CreatedByName   string    `json:"createdByName"`
	UpdatedBy       string    `json:"updatedBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AccessGrant authorizes a user to act on incident reports. A nil
// IncidentReportID means the grant is global. Superseded rows are
// soft-deactivated, never reactivated.
type AccessGrant struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	IncidentReportID *string    `json:"incidentReportId"`
	GrantedBy        string     `json:"grantedBy"`
	AccessType       string     `json:"accessType"`
	Notes            string     `json:"notes,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	IsActive         bool       `json:"isActive"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Valid reports whether the grant authorizes access at the given instant.
// Expiry is evaluated at read time; there is no background sweep.
func (g AccessGrant) Valid(now time.Time) bool {
	if !g.IsActive {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

type Meeting struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Agenda         string    `json:"agenda,omitempty"`
	ScheduledAt    time.Time `json:"scheduledAt"`
	OfflineEnabled bool      `json:"offlineEnabled"`
	CreatedBy      string    `json:"createdBy"`
	CreatedByName  string    `json:"createdByName"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type MeetingParticipant struct {
	MeetingID   string    `json:"meetingId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	AddedBy     string    `json:"addedBy"`
	AddedAt     time.Time `json:"addedAt"`
}

// MeetingSession is one participant's live signaling presence inside one
// meeting. There is at most one per (meeting, user), maintained by upsert.
type MeetingSession struct {
	ID         string     `json:"id"`
	MeetingID  string     `json:"meetingId"`
	UserID     string     `json:"userId"`
	PeerID     string     `json:"peerId"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
}

// ActivePeer is the subset of session state returned to a joining peer.
type ActivePeer struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	PeerID      string    `json:"peerId"`
	StartedAt   time.Time `json:"startedAt"`
}

// PeerConnection tracks the connection status a session holds toward one
// remote peer. Stored one row per (session, peer) so concurrent signal
// deliveries update disjoint rows instead of racing over a serialized blob.
type PeerConnection struct {
	SessionID    string    `json:"-"`
	PeerID       string    `json:"peerId"`
	Status       string    `json:"status"`
	LastActivity time.Time `json:"lastActivity"`
}

type IceCandidate struct {
	ID        int64
	SessionID string
	Candidate json.RawMessage
	CreatedAt time.Time
}

// PendingSignal is a queued signaling envelope addressed to the receiver
// peer, delivered when the receiver next calls sync.
type PendingSignal struct {
	ID             int64           `json:"id"`
	MeetingID      string          `json:"meetingId"`
	SenderPeerID   string          `json:"senderPeerId"`
	ReceiverPeerID string          `json:"receiverPeerId"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"createdAt"`
	DeliveredAt    *time.Time      `json:"-"`
}

type MeetingMessage struct {
	ID        string    `json:"id"`
	MeetingID string    `json:"meetingId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Body      string    `json:"body"`
	IsOffline bool      `json:"isOffline"`
	CreatedAt time.Time `json:"createdAt"`
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
