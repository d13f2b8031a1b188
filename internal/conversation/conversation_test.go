package conversation

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"storefront_backend/internal/agents"
	"storefront_backend/internal/catalog"
	"storefront_backend/internal/fulfillment"
	apphttp "storefront_backend/internal/http"
	"storefront_backend/internal/orders"
	"storefront_backend/internal/whatsapp"
	"storefront_backend/platform/logger"
)

func TestPromptListsCatalogDraftAndWorkflows(t *testing.T) {
	b, err := NewPromptBuilder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompt := b.Build(PromptInput{
		Agent: agents.Agent{Name: "Chez Awa", EscalationPhone: "+2250700000000"},
		Products: []catalog.Product{{
			Name: "Pizza", Price: 5000, Type: catalog.ProductPhysical, Stock: 4,
			Variants: []catalog.VariantGroup{
				{Name: "Taille", Kind: catalog.GroupFixed, Options: []catalog.Option{{Label: "Medium", Price: 5000}, {Label: "Large", Price: 7000}}},
				{Name: "Extra", Kind: catalog.GroupAdditive, Options: []catalog.Option{{Label: "Fromage", Price: 1000}}},
			},
		}},
		Orders: []orders.Order{{ID: uuid.MustParse("a1b2c3d4-0000-0000-0000-000000000000"), Status: orders.StatusPaid, Total: 12000, CreatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}},
		Draft:  fulfillment.Draft{CustomerName: "Awa Koné", DeliveryAddress: "Cocody"},
	})

	for _, want := range []string{
		"Chez Awa",
		"de 5 000 à 7 000 FCFA",
		"Fromage (+1 000 FCFA)",
		"Stock: 4",
		"#a1b2c3d4",
		"Nom: Awa Koné",
		"Adresse: Cocody",
		"FLUX PHYSIQUE",
		"+2250700000000",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt is missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "FLUX SERVICE") {
		t.Fatalf("service workflow must only appear for service catalogs")
	}
}

func TestRedisDeduperClaimsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	d := NewRedisDeduper(client, time.Minute)

	first, err := d.FirstSeen(context.Background(), "agent:wamid-1")
	if err != nil || !first {
		t.Fatalf("expected first claim, got %v %v", first, err)
	}
	again, err := d.FirstSeen(context.Background(), "agent:wamid-1")
	if err != nil || again {
		t.Fatalf("expected duplicate, got %v %v", again, err)
	}

	mr.FastForward(2 * time.Minute)
	expired, _ := d.FirstSeen(context.Background(), "agent:wamid-1")
	if !expired {
		t.Fatalf("claim should expire with its ttl")
	}
}

func TestParseSentimentToleratesFences(t *testing.T) {
	s, err := parseSentiment("```json\n{\"sentiment\":\"ANGRY\",\"is_urgent\":false}\n```")
	if err != nil || s.Label != SentimentAngry {
		t.Fatalf("unexpected %+v %v", s, err)
	}
	s, _ = parseSentiment(`{"sentiment":"furious"}`)
	if s.Label != SentimentNeutral {
		t.Fatalf("unknown labels fall back to neutral, got %q", s.Label)
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	var mu sync.Mutex
	active, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("conv")
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected one holder at a time, got %d", peak)
	}
	if len(k.locks) != 0 {
		t.Fatalf("released keys must be forgotten")
	}
}

type captureInbound struct {
	got chan InboundMessage
}

func (c captureInbound) HandleInbound(_ context.Context, in InboundMessage) error {
	c.got <- in
	return nil
}

func newWebhookRouter(t *testing.T, secret string) (*gin.Engine, captureInbound, *WebhookHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	capture := captureInbound{got: make(chan InboundMessage, 1)}
	h := NewWebhookHandler(capture, secret, logger.New("test"))
	h.RegisterRoutes(&apphttp.RouterContext{Engine: engine, V1: engine.Group("/api/v1")})
	return engine, capture, h
}

func TestWebhookRoutesSignedMessage(t *testing.T) {
	engine, capture, h := newWebhookRouter(t, "hook-secret")
	agentID := uuid.New()
	body := []byte(fmt.Sprintf(`{"device_id":%q,"from":"2250707070707@s.whatsapp.net","message":{"id":"ABC","text":"Bonjour"}}`, agentID))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/whatsapp/webhook", bytes.NewReader(body))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign("hook-secret", body))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	h.Wait()
	select {
	case in := <-capture.got:
		if in.AgentID != agentID || in.Text != "Bonjour" {
			t.Fatalf("unexpected routed message %+v", in)
		}
	default:
		t.Fatalf("message was not handed to the pipeline")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	engine, capture, _ := newWebhookRouter(t, "hook-secret")
	body := []byte(`{"device_id":"x","from":"2250707070707@s.whatsapp.net","message":{"id":"ABC","text":"Bonjour"}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/whatsapp/webhook", bytes.NewReader(body))
	req.Header.Set(whatsapp.SignatureHeader, "sha256=00")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(capture.got) != 0 {
		t.Fatalf("unsigned message must not be processed")
	}
}
