package webhook

import (
	"context"
	"errors"
	"sync"

	"github.com/memohai/metahook/internal/accounts"
	"github.com/memohai/metahook/internal/events"
	"github.com/memohai/metahook/internal/inbound"
	"github.com/memohai/metahook/internal/outbound"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	sends     []outbound.SendRequest
	downloads []outbound.MediaRef
	saves     []outbound.MediaRef
	sendErr   error
	dlErr     error
	dlData    []byte
	saveErr   error
	panicOn   string
}

func (d *recordingDispatcher) SendMessage(_ context.Context, req outbound.SendRequest) (outbound.SendResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panicOn == "send" {
		panic("dispatcher exploded")
	}
	d.sends = append(d.sends, req)
	if d.sendErr != nil {
		return outbound.SendResult{}, d.sendErr
	}
	return outbound.SendResult{MessageID: "wamid.REPLY"}, nil
}

func (d *recordingDispatcher) DownloadMedia(_ context.Context, _ string, ref outbound.MediaRef) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.downloads = append(d.downloads, ref)
	if d.dlErr != nil {
		return nil, d.dlErr
	}
	if d.dlData == nil {
		return []byte("media-bytes"), nil
	}
	return d.dlData, nil
}

func (d *recordingDispatcher) SaveMedia(_ context.Context, ownerID string, _ []byte, ref outbound.MediaRef) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saves = append(d.saves, ref)
	if d.saveErr != nil {
		return "", d.saveErr
	}
	return "/data/owners/" + ownerID + "/media/" + ref.ID, nil
}

func (d *recordingDispatcher) sendCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sends)
}

type staticResolver struct {
	byPhone map[string]accounts.Account
	byBiz   map[string]accounts.Account
	err     error
}

func (r staticResolver) ResolveAccount(_ context.Context, phone, biz string) (accounts.Account, error) {
	if r.err != nil {
		return accounts.Account{}, r.err
	}
	if acc, ok := r.byPhone[phone]; ok {
		return acc, nil
	}
	if acc, ok := r.byBiz[biz]; ok {
		return acc, nil
	}
	return accounts.Account{}, accounts.ErrAccountNotFound
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	envs []events.Envelope
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.envs = append(p.envs, env)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

var errUpstream = errors.New("graph unavailable")

const (
	testBizID   = "WABA-1"
	testDisplay = "15550001111"
	testWaID    = "5511991490733"
	testOwner   = "owner-1"
)

func testAccounts() staticResolver {
	acc := accounts.Account{ID: 1, OwnerID: testOwner, BusinessAccountID: testBizID, PhoneNumber: testDisplay}
	return staticResolver{
		byBiz: map[string]accounts.Account{testBizID: acc},
	}
}

func messagePayload(msg inbound.Message, withContact bool) inbound.Payload {
	value := inbound.Value{
		MessagingProduct: "whatsapp",
		Metadata:         inbound.Metadata{DisplayPhoneNumber: testDisplay, PhoneNumberID: "PN1"},
		Messages:         []inbound.Message{msg},
	}
	if withContact {
		value.Contacts = []inbound.Contact{{WaID: testWaID, Profile: inbound.Profile{Name: "Ana"}}}
	}
	return inbound.Payload{
		Object: "whatsapp_business_account",
		Entry:  []inbound.Entry{{ID: testBizID, Changes: []inbound.Change{{Field: "messages", Value: value}}}},
	}
}

func textMessage(id, body string) inbound.Message {
	return inbound.Message{From: testWaID, ID: id, Timestamp: "1737052800", Type: inbound.TypeText, Text: &inbound.TextBody{Body: body}}
}

func imageMessage(id, caption string) inbound.Message {
	return inbound.Message{From: testWaID, ID: id, Type: inbound.TypeImage, Image: &inbound.MediaObject{ID: "media-" + id, MimeType: "image/jpeg", SHA256: "abc", Caption: caption}}
}

func audioMessage(id string) inbound.Message {
	voice := true
	return inbound.Message{From: testWaID, ID: id, Type: inbound.TypeAudio, Audio: &inbound.AudioObject{ID: "media-" + id, MimeType: "audio/ogg; codecs=opus", Voice: &voice}}
}

type fixture struct {
	dispatcher *recordingDispatcher
	publisher  *recordingPublisher
	service    *Service
}

func newFixture(opts Options) *fixture {
	d := &recordingDispatcher{}
	p := &recordingPublisher{}
	svc := NewService(nil,
		NewResolver(nil, testAccounts()),
		NewExtractor(nil, d, 0),
		d, p, opts,
	)
	return &fixture{dispatcher: d, publisher: p, service: svc}
}
