package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/everstory/authcore/ecode"
	"github.com/everstory/authcore/logging/logger"
	"github.com/everstory/authcore/net/resp"
)

// Upstream maps a path prefix to a backing service.
type Upstream struct {
	Prefix string
	Target *url.URL
}

// ParseUpstreams turns a prefix->url map into upstreams sorted longest
// prefix first, so /api/stories/drafts wins over /api/stories.
func ParseUpstreams(routes map[string]string) ([]Upstream, error) {
	ups := make([]Upstream, 0, len(routes))
	for prefix, raw := range routes {
		target, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		ups = append(ups, Upstream{Prefix: prefix, Target: target})
	}
	sort.Slice(ups, func(i, j int) bool {
		return len(ups[i].Prefix) > len(ups[j].Prefix)
	})
	return ups, nil
}

// Proxy forwards each request to the upstream owning the longest matching
// prefix. Upstream failures surface as 502 rather than hanging the caller.
func Proxy(upstreams []Upstream) gin.HandlerFunc {
	proxies := make(map[string]*httputil.ReverseProxy, len(upstreams))
	for _, up := range upstreams {
		target := up.Target
		p := httputil.NewSingleHostReverseProxy(target)
		p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warnf(r.Context(), "upstream %s unreachable: %v", target.Host, err)
			resp.Fail(w, resp.BadGateway("Upstream service unavailable"))
		}
		proxies[up.Prefix] = p
	}

	return func(c *gin.Context) {
		for _, up := range upstreams {
			if strings.HasPrefix(c.Request.URL.Path, up.Prefix) {
				proxies[up.Prefix].ServeHTTP(c.Writer, c.Request)
				return
			}
		}
		resp.Fail(c.Writer, resp.NotFound(ecode.Text(ecode.NothingFound)))
	}
}
