package provider

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

type OutcomeKind int

const (
	Ambiguous OutcomeKind = iota
	Completed
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "ambiguous"
	}
}

// Outcome is a normalized provider result. URL may be empty for a Completed outcome
// whose payload reported completion without a media reference.
type Outcome struct {
	Kind    OutcomeKind
	URL     string
	Message string
}

// Extractor reads a raw provider payload.
type Extractor interface {
	Extract(raw []byte) Outcome
}

// Adapter recognizes one payload shape. ok is false when the shape is not its own.
type Adapter interface {
	Match(raw []byte) (Outcome, bool)
}

type chain []Adapter

// Chain returns an Extractor that uses the first adapter recognizing the payload.
func Chain(adapters ...Adapter) Extractor {
	return chain(adapters)
}

func (c chain) Extract(raw []byte) Outcome {
	for _, a := range c {
		if out, ok := a.Match(raw); ok {
			return out
		}
	}
	return Outcome{Kind: Ambiguous}
}

// resolve applies the precedence shared by all adapters: a media URL wins over any
// status, an error without a URL fails, a completion status without a URL completes,
// anything else is ambiguous.
func resolve(url, errMsg string, completed bool) Outcome {
	switch {
	case url != "":
		return Outcome{Kind: Completed, URL: url}
	case errMsg != "":
		return Outcome{Kind: Failed, Message: errMsg}
	case completed:
		return Outcome{Kind: Completed}
	default:
		return Outcome{Kind: Ambiguous}
	}
}

type kieAdapter struct{}

// KIE understands the market API job record used by both createTask callbacks and recordInfo:
// {"code":200,"data":{"taskId":..,"state":..,"resultJson":"{\"resultUrls\":[..]}","failMsg":..}}.
var KIE Adapter = kieAdapter{}

func (kieAdapter) Match(raw []byte) (Outcome, bool) {
	state := gjson.GetBytes(raw, "data.state")
	if !state.Exists() || state.Type != gjson.String {
		return Outcome{}, false
	}

	var url string
	result := gjson.GetBytes(raw, "data.resultJson")
	switch result.Type {
	case gjson.String:
		url = firstHTTP(gjson.Get(result.Str, "resultUrls"))
	case gjson.JSON:
		url = firstHTTP(result.Get("resultUrls"))
	}

	var errMsg string
	switch strings.ToLower(state.Str) {
	case "fail", "failed", "error":
		errMsg = gjson.GetBytes(raw, "data.failMsg").String()
		if errMsg == "" {
			errMsg = "generation failed"
		}
	}
	return resolve(url, errMsg, strings.EqualFold(state.Str, "success")), true
}

type genericAdapter struct{}

// Generic is the best-effort fallback for unknown shapes. It searches direct and nested
// fields, then arrays of results, then any media URL embedded anywhere in the payload.
var Generic Adapter = genericAdapter{}

var (
	urlFields = []string{
		"output.image_url", "output.video_url", "output.url", "output.imageUrl", "output.videoUrl", "output.image", "output.video",
		"image_url", "video_url", "imageUrl", "videoUrl", "image", "video",
		"result.url", "result.image_url", "result.video_url", "result.imageUrl", "result.videoUrl", "result.image", "result.video",
		"url",
		"data.url", "data.image_url", "data.video_url", "data.imageUrl", "data.videoUrl",
	}
	urlArrays = []string{
		"output.images", "output.videos", "result.images", "result.videos",
		"images", "videos", "data.images", "data.videos", "data.resultUrls",
	}
	mediaURL = regexp.MustCompile(`(?i)https?://[^"\\\s]+\.(?:png|jpe?g|webp|gif|mp4|webm|mov)[^"\\\s]*`)
)

func (genericAdapter) Match(raw []byte) (Outcome, bool) {
	return resolve(findMediaURL(raw), findError(raw), isCompletedStatus(gjson.GetBytes(raw, "status").String())), true
}

func findMediaURL(raw []byte) string {
	if gjson.ValidBytes(raw) {
		for _, path := range urlFields {
			if v := gjson.GetBytes(raw, path); v.Type == gjson.String && isHTTP(v.Str) {
				return v.Str
			}
		}
		for _, path := range urlArrays {
			if url := firstHTTP(gjson.GetBytes(raw, path)); url != "" {
				return url
			}
		}
	}
	if m := mediaURL.Find(raw); m != nil {
		return string(m)
	}
	return ""
}

func findError(raw []byte) string {
	status := strings.ToLower(gjson.GetBytes(raw, "status").String())
	if status == "failed" || status == "error" {
		for _, path := range []string{"error", "message", "error_message"} {
			if v := gjson.GetBytes(raw, path); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
		return "generation failed"
	}
	v := gjson.GetBytes(raw, "error")
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.JSON:
		return v.Raw
	}
	return ""
}

func isCompletedStatus(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "success", "succeeded", "done":
		return true
	}
	return false
}

// firstHTTP returns the first element of an array that is, or holds under "url", an http(s) URL.
func firstHTTP(arr gjson.Result) string {
	if !arr.IsArray() {
		return ""
	}
	first := arr.Get("0")
	if first.Type == gjson.String && isHTTP(first.Str) {
		return first.Str
	}
	if u := first.Get("url"); u.Type == gjson.String && isHTTP(u.Str) {
		return u.Str
	}
	return ""
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
