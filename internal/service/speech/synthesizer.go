package speech

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/valyala/fasthttp"
)

const maxChunkRunes = 200

// Synthesizer 文本转语音接口，返回 MP3 字节
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// TranslateSynthesizer fetches speech from the Google Translate TTS endpoint, one request per chunk.
type TranslateSynthesizer struct {
	baseURL string
	tld     string
	timeout time.Duration
	client  *fasthttp.Client
}

// NewTranslateSynthesizer 创建合成客户端；baseURL 为空时按 tld 拼出默认端点
func NewTranslateSynthesizer(baseURL, tld string, timeout time.Duration) *TranslateSynthesizer {
	if tld == "" {
		tld = "com"
	}
	if baseURL == "" {
		baseURL = "https://translate.google." + tld
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TranslateSynthesizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		tld:     tld,
		timeout: timeout,
		client: &fasthttp.Client{
			Name:                     "z-polyglot",
			NoDefaultUserAgentHeader: true,
			MaxConnsPerHost:          16,
		},
	}
}

func (s *TranslateSynthesizer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	chunks := splitText(text, maxChunkRunes)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("nothing to synthesize")
	}
	if language == "" {
		return nil, fmt.Errorf("missing synthesis language")
	}

	var audio []byte
	for i, chunk := range chunks {
		data, err := s.fetch(ctx, chunk, language, i, len(chunks))
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		audio = append(audio, data...)
	}
	return audio, nil
}

func (s *TranslateSynthesizer) fetch(ctx context.Context, text, language string, idx, total int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", language)
	q.Set("q", text)
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(text)))

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.baseURL + "/translate_tts?" + q.Encode())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Referer", "https://translate.google."+s.tld+"/")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("tts endpoint returned status %d", resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("tts endpoint returned empty body")
	}

	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// splitText breaks text into chunks of at most limit runes, preferring sentence ends, then spaces.
func splitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	var chunks []string
	for text != "" {
		runes := []rune(text)
		if len(runes) <= limit {
			chunks = append(chunks, text)
			break
		}

		cut := -1
		for i := limit - 1; i > 0; i-- {
			if isSentenceEnd(runes[i]) {
				cut = i + 1
				break
			}
		}
		if cut < 0 {
			for i := limit; i > 0; i-- {
				if unicode.IsSpace(runes[i]) {
					cut = i
					break
				}
			}
		}
		if cut <= 0 {
			cut = limit
		}

		if chunk := strings.TrimSpace(string(runes[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(string(runes[cut:]))
	}
	return chunks
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', ';', ':', '。', '！', '？', '؟', '\n':
		return true
	}
	return false
}
