package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenericURLWinsOverStatus(t *testing.T) {
	out := Chain(KIE, Generic).Extract([]byte(`{"status":"failed","error":"boom","output":{"image_url":"https://x/a.png"}}`))
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, "https://x/a.png", out.URL)
}

func TestGenericShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind OutcomeKind
		url  string
		msg  string
	}{
		{"direct field", `{"image_url":"https://cdn/x.jpg"}`, Completed, "https://cdn/x.jpg", ""},
		{"nested result", `{"result":{"video_url":"https://cdn/v.mp4"}}`, Completed, "https://cdn/v.mp4", ""},
		{"data url", `{"data":{"url":"https://cdn/d.webp"}}`, Completed, "https://cdn/d.webp", ""},
		{"array of strings", `{"images":["https://cdn/1.png","https://cdn/2.png"]}`, Completed, "https://cdn/1.png", ""},
		{"array of objects", `{"output":{"images":[{"url":"https://cdn/o.png"}]}}`, Completed, "https://cdn/o.png", ""},
		{"regex fallback", `{"payload":{"deep":{"files":"see https://cdn.example/a/b.PNG?sig=1"}}}`, Completed, "https://cdn.example/a/b.PNG?sig=1", ""},
		{"non http ignored", `{"image_url":"s3://bucket/x.png"}`, Ambiguous, "", ""},
		{"failed status", `{"status":"failed","message":"nsfw"}`, Failed, "", "nsfw"},
		{"failed default message", `{"status":"error"}`, Failed, "", "generation failed"},
		{"error object", `{"error":{"code":42}}`, Failed, "", `{"code":42}`},
		{"completed without url", `{"status":"done"}`, Completed, "", ""},
		{"in progress", `{"status":"processing"}`, Ambiguous, "", ""},
		{"empty object", `{}`, Ambiguous, "", ""},
		{"not json", `oops`, Ambiguous, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Chain(Generic).Extract([]byte(tc.raw))
			assert.Equal(t, tc.kind, out.Kind)
			assert.Equal(t, tc.url, out.URL)
			assert.Equal(t, tc.msg, out.Message)
		})
	}
}

func TestKIERecord(t *testing.T) {
	ex := Chain(KIE, Generic)

	out := ex.Extract([]byte(`{"code":200,"data":{"taskId":"t1","state":"success","resultJson":"{\"resultUrls\":[\"https://kie/r.png\"]}"}}`))
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, "https://kie/r.png", out.URL)

	out = ex.Extract([]byte(`{"code":200,"data":{"taskId":"t1","state":"fail","failMsg":"content policy"}}`))
	assert.Equal(t, Failed, out.Kind)
	assert.Equal(t, "content policy", out.Message)

	out = ex.Extract([]byte(`{"code":200,"data":{"taskId":"t1","state":"generating"}}`))
	assert.Equal(t, Ambiguous, out.Kind)

	out = ex.Extract([]byte(`{"code":200,"data":{"taskId":"t1","state":"success","resultJson":""}}`))
	assert.Equal(t, Completed, out.Kind)
	assert.Empty(t, out.URL)
}

func TestKIEDoesNotClaimOtherShapes(t *testing.T) {
	_, ok := KIE.Match([]byte(`{"output":{"image_url":"https://x/a.png"}}`))
	assert.False(t, ok)
}
