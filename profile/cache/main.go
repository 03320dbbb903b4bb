// Profiling:
// go build ./profile/cache
// go tool pprof -http=":8000" -nodefraction=0.001 ./cache mem.pprof

package main

import (
	"fmt"

	"github.com/edwinsyarief/kura"
	"github.com/pkg/profile"
)

type texture struct {
	Width  int
	Height int
	Pixels []byte
}

func main() {
	rounds := 50
	keys := 256
	reads := 1000
	p := profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook)
	run(rounds, keys, reads)
	p.Stop()
}

func run(rounds, numKeys, reads int) {
	loader := kura.LoaderFunc[string, texture](func(key string) (texture, error) {
		return texture{Width: 16, Height: 16, Pixels: make([]byte, 16*16*4)}, nil
	})
	keys := make([]string, numKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("textures/%03d.png", i)
	}

	for range rounds {
		cache := kura.NewSwappableCache[string, texture](loader)
		refs := make([]kura.CacheRef[texture], 0, numKeys)
		for _, k := range keys {
			h, err := cache.GetOrLoad(k)
			if err != nil {
				panic(err)
			}
			refs = append(refs, h.Cached())
		}
		for i := range reads {
			if i%100 == 0 {
				if err := cache.ReloadAll(); err != nil {
					panic(err)
				}
			}
			for j := range refs {
				if refs[j].Stale() {
					refs[j].Refresh()
				}
				_ = refs[j].GetCached().Width
			}
		}
	}
}
