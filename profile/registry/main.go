// Profiling:
// go build ./profile/registry
// go tool pprof -http=":8000" -nodefraction=0.001 ./registry mem.pprof

package main

import (
	"sync"

	"github.com/dc0d/onexit"
	"github.com/edwinsyarief/kura"
	"github.com/edwinsyarief/kura/bridge"
	"github.com/pkg/profile"
)

func main() {
	rounds := 50
	iters := 100
	objects := 1000
	p := profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook)
	b := bridge.New(kura.WithArenaCapacity(objects))
	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			b.Close()
			p.Stop()
		})
	}
	// Interrupted runs still detach pending keys and write the profile.
	onexit.Register(shutdown)
	run(b, rounds, iters, objects)
	shutdown()
}

func run(b *bridge.Bridge, rounds, iters, numObjects int) {
	for range rounds {
		es := kura.NewEntities(numObjects)
		keys := make([]bridge.Key, numObjects)
		for i := range keys {
			keys[i] = b.Objects().Create(i)
		}
		for range iters {
			components := make([]*bridge.Component, 0, numObjects)
			entities := make([]kura.Entity, 0, numObjects)
			for _, k := range keys {
				e := es.Spawn()
				c, err := b.Spawn(k, e)
				if err != nil {
					panic(err)
				}
				components = append(components, c)
				entities = append(entities, e)
			}
			for _, e := range entities {
				if _, ok := b.ObjectOf(e); !ok {
					panic("lost object for " + e.String())
				}
			}
			// Despawn under the name table lock, as a script finalizer would.
			b.Names().Locked(func() {
				for i, c := range components {
					c.Drop()
					es.Despawn(entities[i])
				}
			})
		}
		for _, k := range keys {
			b.Objects().Destroy(k)
		}
	}
}
