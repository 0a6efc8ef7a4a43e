package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// applyResourceBlocking intercepts requests and fails the configured
// resource types before they load.
func applyResourceBlocking(page *rod.Page, types []string) {
	blocked := make(map[string]bool, len(types))
	for _, t := range types {
		// Accept both config plurals and CDP singulars.
		blocked[strings.TrimSuffix(strings.ToLower(t), "s")] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		resType := strings.ToLower(string(h.Request.Type()))
		if blocked[resType] || blocked[strings.TrimSuffix(resType, "s")] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})

	go router.Run()
}
