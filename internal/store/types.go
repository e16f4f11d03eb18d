package store

// Message kinds. ButtonReply and template replies degrade to text with the
// selected option as body; anything unrecognized is stored as KindOther.
const (
	KindText     = "text"
	KindImage    = "image"
	KindDocument = "document"
	KindAudio    = "audio"
	KindVideo    = "video"
	KindSticker  = "sticker"
	KindOther    = "other"
)

// Message delivery statuses.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusReceived  = "received"
)

// Display-name ranks, lower is better. A chat name is only replaced by a
// name of equal or better rank so a resolved human name never degrades back
// to a raw phone number.
const (
	RankCRMContact   = 1
	RankContactName  = 2
	RankNotifyName   = 3
	RankBusinessName = 4
	RankPushName     = 5
	RankPhoneNumber  = 6
)

// Session is one pairing lifetime for one user. The credential material
// itself lives in the per-user protocol store; this row tracks lifecycle
// metadata. At most one session per user is active at a time (enforced by a
// partial unique index).
type Session struct {
	ID                 string
	UserID             string
	PhoneNumber        string
	QRCode             string
	IsActive           bool
	LastConnectedAt    int64
	LastDisconnectedAt int64
}

// Chat is one remote conversation within one session.
type Chat struct {
	SessionID          string
	JID                string
	Name               string
	NameRank           int
	IsGroup            bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
	AvatarURL          string
	ContactID          string
}

// Message is one protocol message within one chat.
type Message struct {
	ID        int64
	SessionID string
	ChatJID   string
	MsgID     string
	SenderJID string
	FromMe    bool
	Kind      string
	Body      string
	MediaRef  string
	FileName  string
	MimeType  string
	FileSize  int64
	Status    string
	ContactID string
	Timestamp int64
}

// Contact is a directory entry synced from the network, feeding display-name
// resolution.
type Contact struct {
	SessionID    string
	JID          string
	Name         string
	PushName     string
	BusinessName string
}
