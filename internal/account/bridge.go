package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zyvault/zyvault/internal/ingest"
	"github.com/zyvault/zyvault/internal/storage"
)

// ErrUnbound is returned when a message arrives from a number no account has
// claimed.
var ErrUnbound = errors.New("sender is not bound to an account")

// ErrIgnored is returned for messages the bridge deliberately drops, such as
// group chatter.
var ErrIgnored = errors.New("message ignored")

// routingCodeRe matches codes like "ZV-7KQ2MN" after trimming.
var routingCodeRe = regexp.MustCompile(`^[A-Z]{2}-[A-Z0-9]{6}$`)

// Ingestor is the slice of the ingestion pipeline the bridge needs.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (storage.Document, error)
}

// BridgeMessage is one inbound WhatsApp delivery.
type BridgeMessage struct {
	Sender   string
	Text     string
	Media    []byte
	Filename string
}

// BridgeResult reports what the bridge did with a message.
type BridgeResult struct {
	// Bound is set when the message was a routing code and binding happened.
	Bound bool
	// Doc is set when the message was ingested as content.
	Doc storage.Document
}

// Bridge routes inbound WhatsApp messages: a routing code binds the sender's
// number to the owning account, anything else is ingested into the bound
// account as whatsapp-sourced content.
type Bridge struct {
	manager  *Manager
	ingestor Ingestor
}

// NewBridge creates a Bridge.
func NewBridge(m *Manager, ing Ingestor) *Bridge {
	return &Bridge{manager: m, ingestor: ing}
}

// Handle processes one message. Group messages are dropped with ErrIgnored;
// content from unbound numbers fails with ErrUnbound.
func (b *Bridge) Handle(ctx context.Context, msg BridgeMessage) (BridgeResult, error) {
	if msg.Sender == "" {
		return BridgeResult{}, fmt.Errorf("sender is required")
	}
	// Group chats are noise; only direct messages reach the vault.
	if strings.Contains(msg.Sender, "@g.us") {
		return BridgeResult{}, ErrIgnored
	}

	if code := strings.ToUpper(strings.TrimSpace(msg.Text)); routingCodeRe.MatchString(code) {
		binding, err := b.manager.store.BindNumber(code, msg.Sender)
		if err == storage.ErrNotFound {
			return BridgeResult{}, fmt.Errorf("unknown routing code %s", code)
		}
		if err != nil {
			return BridgeResult{}, err
		}
		b.manager.logger.Info("whatsapp number bound", "account_id", binding.AccountID)
		return BridgeResult{Bound: true}, nil
	}

	binding, err := b.manager.store.FindBindingByNumber(msg.Sender)
	if err == storage.ErrNotFound {
		return BridgeResult{}, ErrUnbound
	}
	if err != nil {
		return BridgeResult{}, err
	}

	data := msg.Media
	title := msg.Filename
	if len(data) == 0 {
		if strings.TrimSpace(msg.Text) == "" {
			return BridgeResult{}, ErrIgnored
		}
		data = []byte(msg.Text)
		title = "WhatsApp message " + time.Now().UTC().Format("2006-01-02 15:04")
	}
	if title == "" {
		title = "WhatsApp media " + time.Now().UTC().Format("2006-01-02 15:04")
	}

	doc, err := b.ingestor.Ingest(ctx, ingest.Request{
		AccountID: binding.AccountID,
		Title:     title,
		Source:    storage.SourceWhatsApp,
		Who:       "whatsapp-bridge",
		Data:      data,
	})
	if err != nil {
		return BridgeResult{}, err
	}
	return BridgeResult{Doc: doc}, nil
}
