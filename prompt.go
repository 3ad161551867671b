package rdpbridge

import (
	"sync"
	"time"
)

type PromptKind int

const (
	PromptCredentials PromptKind = iota
	PromptGatewayCredentials
	PromptCertificate
	PromptChangedCertificate
)

func (k PromptKind) String() string {
	switch k {
	case PromptCredentials:
		return "credentials"
	case PromptGatewayCredentials:
		return "gateway-credentials"
	case PromptCertificate:
		return "certificate"
	case PromptChangedCertificate:
		return "changed-certificate"
	default:
		return "unknown"
	}
}

// Prompt is one question from the engine waiting for the UI. It accepts
// exactly one answer; later answers, and answers after the prompter gave
// up, are ignored.
type Prompt struct {
	Kind   PromptKind
	Handle Handle

	// Credentials holds the values the engine already knows.
	Credentials Credentials
	// Certificate is set for certificate prompts. The Old* fields are only
	// filled for PromptChangedCertificate.
	Certificate ChangedCertificate

	once  sync.Once
	reply chan promptReply
}

type promptReply struct {
	ok       bool
	creds    Credentials
	decision CertDecision
}

func newPrompt(kind PromptKind, h Handle) *Prompt {
	return &Prompt{Kind: kind, Handle: h, reply: make(chan promptReply, 1)}
}

func (p *Prompt) answer(r promptReply) bool {
	answered := false
	p.once.Do(func() {
		p.reply <- r
		answered = true
	})
	return answered
}

// expire consumes the single answer slot so late answers are refused.
func (p *Prompt) expire() {
	p.once.Do(func() {})
}

// Login answers a credentials prompt. It reports whether the answer was
// taken.
func (p *Prompt) Login(creds Credentials) bool {
	return p.answer(promptReply{ok: true, creds: creds})
}

// Cancel refuses a credentials prompt or rejects a certificate.
func (p *Prompt) Cancel() bool {
	return p.answer(promptReply{decision: CertReject})
}

func (p *Prompt) Decide(d CertDecision) bool {
	return p.answer(promptReply{ok: d != CertReject, decision: d})
}

// Prompter turns the blocking authentication and certificate callbacks of
// one session into Prompt requests answered from another goroutine. A
// question not answered within the timeout is refused.
type Prompter struct {
	handle   Handle
	timeout  time.Duration
	requests chan *Prompt
}

func NewPrompter(h Handle, timeout time.Duration) *Prompter {
	return &Prompter{
		handle:   h,
		timeout:  timeout,
		requests: make(chan *Prompt),
	}
}

// Requests delivers pending prompts.
func (p *Prompter) Requests() <-chan *Prompt {
	return p.requests
}

func (p *Prompter) ask(pr *Prompt) promptReply {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case p.requests <- pr:
	case <-timer.C:
		pr.expire()
		return promptReply{}
	}

	select {
	case r := <-pr.reply:
		return r
	case <-timer.C:
		pr.expire()
		// An answer may have raced the timer.
		select {
		case r := <-pr.reply:
			return r
		default:
			return promptReply{}
		}
	}
}

func (p *Prompter) credentials(kind PromptKind, creds *Credentials) bool {
	pr := newPrompt(kind, p.handle)
	pr.Credentials = *creds
	r := p.ask(pr)
	if !r.ok {
		return false
	}
	*creds = r.creds
	return true
}

func (p *Prompter) OnAuthenticate(creds *Credentials) bool {
	return p.credentials(PromptCredentials, creds)
}

func (p *Prompter) OnGatewayAuthenticate(creds *Credentials) bool {
	return p.credentials(PromptGatewayCredentials, creds)
}

func (p *Prompter) OnVerifyCertificate(cert Certificate) CertDecision {
	pr := newPrompt(PromptCertificate, p.handle)
	pr.Certificate = ChangedCertificate{Certificate: cert}
	return p.ask(pr).decision
}

func (p *Prompter) OnVerifyChangedCertificate(cert ChangedCertificate) CertDecision {
	pr := newPrompt(PromptChangedCertificate, p.handle)
	pr.Certificate = cert
	return p.ask(pr).decision
}
