package engine

import (
	"github.com/duanchangstar/sushi/plugins/analyzer"
	"github.com/duanchangstar/sushi/plugins/bitcrusher"
	"github.com/duanchangstar/sushi/plugins/gain"
	"github.com/duanchangstar/sushi/plugins/passthrough"
	"github.com/duanchangstar/sushi/processors"
)

// registerInternalPlugins fills a registry with every built-in plugin.
func registerInternalPlugins(r *processors.Registry) {
	r.MustRegister(passthrough.UID, passthrough.New)
	r.MustRegister(gain.UID, gain.New)
	r.MustRegister(bitcrusher.UID, bitcrusher.New)
	r.MustRegister(analyzer.UID, analyzer.New)
}
