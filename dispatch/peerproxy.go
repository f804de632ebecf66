package dispatch

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
)

// PeerProxy forwards a client request to whichever cluster node currently holds a site's
// tunnel connection, when that node is not this one. It is never a redirect: the client
// sees a single response from this node, proxied transparently from the peer.
type PeerProxy struct {
	mu    sync.Mutex
	byAddr map[string]*httputil.ReverseProxy
}

// NewPeerProxy returns an empty PeerProxy.
func NewPeerProxy() *PeerProxy {
	return &PeerProxy{byAddr: make(map[string]*httputil.ReverseProxy)}
}

// ForAddr returns the cached ReverseProxy for nodeAddress (a "host:port" or URL),
// creating one on first use.
func (p *PeerProxy) ForAddr(nodeAddress string) (*httputil.ReverseProxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rp, ok := p.byAddr[nodeAddress]; ok {
		return rp, nil
	}
	target, err := targetURL(nodeAddress)
	if err != nil {
		return nil, err
	}
	rp := httputil.NewSingleHostReverseProxy(target)
	origDirector := rp.Director
	rp.Director = func(r *http.Request) {
		origDirector(r)
		r.Header.Set("X-Forwarded-By", "tunnelgw")
	}
	p.byAddr[nodeAddress] = rp
	return rp, nil
}

// ServeHTTP forwards r to nodeAddress's peer and writes its response into w.
func (p *PeerProxy) ServeHTTP(w http.ResponseWriter, r *http.Request, nodeAddress string) error {
	rp, err := p.ForAddr(nodeAddress)
	if err != nil {
		return err
	}
	rp.ServeHTTP(w, r)
	return nil
}

func targetURL(nodeAddress string) (*url.URL, error) {
	if u, err := url.Parse(nodeAddress); err == nil && u.Scheme != "" && u.Host != "" {
		return u, nil
	}
	return url.Parse("http://" + nodeAddress)
}
