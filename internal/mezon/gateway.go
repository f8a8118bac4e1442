package mezon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

type Config struct {
	BaseURL    string
	GatewayURL string
	Token      string
	ClanID     string
	Timeout    time.Duration
}

// Gateway is the production Client: REST for outbound calls, a websocket
// read loop for inbound events. Run is expected to be supervised; it
// returns on connection loss and the supervisor restarts it with backoff.
type Gateway struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	mu      sync.Mutex
	handler MessageHandler
}

func NewGateway(cfg Config, log logx.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

func (g *Gateway) SetHandler(h MessageHandler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

func (g *Gateway) SendMessage(ctx context.Context, msg ReplyMessage) error {
	if strings.TrimSpace(msg.ChannelID) == "" {
		return errors.New("mezon: channel_id is required")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	endpoint := g.cfg.BaseURL + "/api/v1/channels/" + url.PathEscape(msg.ChannelID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("mezon send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mezon send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func (g *Gateway) ListVoiceParticipants(ctx context.Context, clanID, channelFilter string) ([]string, error) {
	endpoint := g.cfg.BaseURL + "/api/v1/clans/" + url.PathEscape(clanID) + "/voice-users" +
		"?channel_type=" + strconv.Itoa(ChannelTypeVoice)
	if channelFilter != "" {
		endpoint += "&channel_id=" + url.QueryEscape(channelFilter)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mezon voice users: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mezon voice users: status %d", resp.StatusCode)
	}

	var out voiceUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mezon voice users: decode: %w", err)
	}
	names := make([]string, 0, len(out.VoiceChannelUsers))
	for _, u := range out.VoiceChannelUsers {
		if u.Participant != "" {
			names = append(names, u.Participant)
		}
	}
	return names, nil
}

// SendChannelText satisfies logx.ChannelSender for the supervisor log sink.
func (g *Gateway) SendChannelText(ctx context.Context, channelID, text string) error {
	return g.SendMessage(ctx, ReplyMessage{
		ClanID:         g.cfg.ClanID,
		ChannelID:      channelID,
		Mode:           ModeChannelMessage,
		IsParentPublic: true,
		ParentID:       "0",
		Msg:            MessageContent{T: text},
	})
}

// eventFrame is one gateway websocket frame.
type eventFrame struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
}

// Run connects to the websocket gateway and pumps events until the
// context is canceled or the connection drops.
func (g *Gateway) Run(ctx context.Context) error {
	gwURL := g.cfg.GatewayURL
	if strings.Contains(gwURL, "?") {
		gwURL += "&token=" + url.QueryEscape(g.cfg.Token)
	} else {
		gwURL += "?token=" + url.QueryEscape(g.cfg.Token)
	}

	conn, _, err := websocket.Dial(ctx, gwURL, nil)
	if err != nil {
		return fmt.Errorf("mezon gateway dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutdown")
	g.log.Info("gateway connected")

	for {
		var frame eventFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("mezon gateway read: %w", err)
		}
		g.dispatch(ctx, frame)
	}
}

func (g *Gateway) dispatch(ctx context.Context, frame eventFrame) {
	switch frame.T {
	case "channel_message":
		var msg ChannelMessage
		if err := json.Unmarshal(frame.D, &msg); err != nil {
			g.log.Warn("gateway event decode failed", logx.String("type", frame.T), logx.Err(err))
			return
		}
		g.mu.Lock()
		h := g.handler
		g.mu.Unlock()
		if h != nil {
			h.HandleChannelMessage(ctx, msg)
		}
	default:
		// presence/typing/etc. are not consumed here
	}
}
