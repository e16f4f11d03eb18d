package wa

import (
	"context"

	"github.com/hireloop/wabridge/internal/ingest"
	"github.com/hireloop/wabridge/internal/store"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// downloader is the subset of the whatsmeow client the parser needs to
// build media retrieval hooks. Tests pass nil and skip download wiring.
type downloader interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// ParseLiveMessage normalizes a live protocol message into the tagged shape
// the rest of the system consumes. Unknown payload variants degrade to
// KindOther instead of being dropped.
func ParseLiveMessage(evt *events.Message, client downloader) *ingest.LiveMessage {
	msg := unwrap(evt.Message)

	m := store.Message{
		ChatJID:   evt.Info.Chat.String(),
		MsgID:     evt.Info.ID,
		SenderJID: evt.Info.Sender.ToNonAD().String(),
		FromMe:    evt.Info.IsFromMe,
		Status:    store.StatusReceived,
		Timestamp: evt.Info.Timestamp.UnixMilli(),
	}
	if evt.Info.IsFromMe {
		m.Status = store.StatusSent
	}

	lm := &ingest.LiveMessage{PushName: evt.Info.PushName}
	fillContent(&m, msg)
	lm.Msg = m
	if dl := downloadable(msg); dl != nil && client != nil {
		lm.Download = func(ctx context.Context) ([]byte, error) {
			return client.Download(ctx, dl)
		}
	}
	return lm
}

// unwrap peels ephemeral and view-once wrappers down to the real payload.
func unwrap(msg *waE2E.Message) *waE2E.Message {
	if msg == nil {
		return nil
	}
	if e := msg.GetEphemeralMessage(); e != nil && e.GetMessage() != nil {
		return unwrap(e.GetMessage())
	}
	if v := msg.GetViewOnceMessage(); v != nil && v.GetMessage() != nil {
		return unwrap(v.GetMessage())
	}
	return msg
}

// fillContent sets Kind, Body and media metadata from the payload variant.
func fillContent(m *store.Message, msg *waE2E.Message) {
	if msg == nil {
		m.Kind = store.KindOther
		return
	}

	switch {
	case msg.GetConversation() != "":
		m.Kind = store.KindText
		m.Body = msg.GetConversation()

	case msg.GetExtendedTextMessage() != nil:
		m.Kind = store.KindText
		m.Body = msg.GetExtendedTextMessage().GetText()

	case msg.GetButtonsResponseMessage() != nil:
		// Replies to interactive templates carry the selected option;
		// store it as plain text so the CRM timeline stays readable.
		m.Kind = store.KindText
		b := msg.GetButtonsResponseMessage()
		if m.Body = b.GetSelectedDisplayText(); m.Body == "" {
			m.Body = b.GetSelectedButtonID()
		}

	case msg.GetTemplateButtonReplyMessage() != nil:
		m.Kind = store.KindText
		tb := msg.GetTemplateButtonReplyMessage()
		if m.Body = tb.GetSelectedDisplayText(); m.Body == "" {
			m.Body = tb.GetSelectedID()
		}

	case msg.GetListResponseMessage() != nil:
		m.Kind = store.KindText
		m.Body = msg.GetListResponseMessage().GetTitle()

	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		m.Kind = store.KindImage
		m.Body = img.GetCaption()
		m.MimeType = img.GetMimetype()
		m.FileSize = int64(img.GetFileLength())

	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		m.Kind = store.KindVideo
		m.Body = vid.GetCaption()
		m.MimeType = vid.GetMimetype()
		m.FileSize = int64(vid.GetFileLength())

	case msg.GetAudioMessage() != nil:
		au := msg.GetAudioMessage()
		m.Kind = store.KindAudio
		m.MimeType = au.GetMimetype()
		m.FileSize = int64(au.GetFileLength())

	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		m.Kind = store.KindDocument
		m.Body = doc.GetCaption()
		m.FileName = doc.GetFileName()
		m.MimeType = doc.GetMimetype()
		m.FileSize = int64(doc.GetFileLength())

	case msg.GetStickerMessage() != nil:
		st := msg.GetStickerMessage()
		m.Kind = store.KindSticker
		m.MimeType = st.GetMimetype()
		m.FileSize = int64(st.GetFileLength())

	default:
		m.Kind = store.KindOther
	}
}

// downloadable returns the media payload of msg, or nil for non-media kinds.
func downloadable(msg *waE2E.Message) whatsmeow.DownloadableMessage {
	if msg == nil {
		return nil
	}
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage()
	default:
		return nil
	}
}

// ParseHistorySync flattens one backfill delivery into chats, contacts and
// messages. Returns nil when the payload carries nothing usable.
func ParseHistorySync(evt *events.HistorySync) *ingest.HistoryPayload {
	data := evt.Data
	if data == nil {
		return nil
	}

	h := &ingest.HistoryPayload{}
	for _, conv := range data.GetConversations() {
		chatJID := conv.GetID()
		if chatJID == "" {
			continue
		}
		h.Chats = append(h.Chats, ingest.HistoryChat{
			JID:  chatJID,
			Name: conv.GetName(),
		})
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil {
				continue
			}
			m := store.Message{
				ChatJID:   chatJID,
				MsgID:     wmsg.GetKey().GetID(),
				SenderJID: wmsg.GetKey().GetParticipant(),
				FromMe:    wmsg.GetKey().GetFromMe(),
				Status:    store.StatusReceived,
				Timestamp: int64(wmsg.GetMessageTimestamp()) * 1000,
			}
			if m.FromMe {
				m.Status = store.StatusSent
			}
			fillContent(&m, unwrap(wmsg.GetMessage()))
			h.Messages = append(h.Messages, m)
		}
	}
	for _, push := range data.GetPushnames() {
		if push.GetID() == "" || push.GetPushname() == "" {
			continue
		}
		h.Contacts = append(h.Contacts, store.Contact{
			JID:      push.GetID(),
			PushName: push.GetPushname(),
		})
	}

	if len(h.Chats) == 0 && len(h.Contacts) == 0 && len(h.Messages) == 0 {
		return nil
	}
	return h
}

// parseReceipt maps a delivery receipt onto stored-status updates. Returns
// nil for receipt types that do not change message status.
func parseReceipt(evt *events.Receipt) *ingest.Receipt {
	if len(evt.MessageIDs) == 0 {
		return nil
	}
	var status string
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = store.StatusDelivered
	case events.ReceiptTypeRead, events.ReceiptTypeReadSelf:
		status = store.StatusRead
	default:
		return nil
	}
	return &ingest.Receipt{
		ChatJID: evt.Chat.String(),
		MsgIDs:  evt.MessageIDs,
		Status:  status,
	}
}
