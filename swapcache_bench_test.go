package kura

import (
	"fmt"
	"testing"
)

type benchTexture struct {
	W, H int
	Data []byte
}

func benchCache(b *testing.B, size int) (*SwappableCache[string, benchTexture], []string) {
	b.Helper()
	c := NewSwappableCache[string, benchTexture](LoaderFunc[string, benchTexture](func(key string) (benchTexture, error) {
		return benchTexture{W: 16, H: 16, Data: make([]byte, 16)}, nil
	}))
	keys := make([]string, size)
	for i := range keys {
		keys[i] = fmt.Sprintf("textures/%d.png", i)
	}
	return c, keys
}

func BenchmarkCacheGetOrLoadHit(b *testing.B) {
	sizes := []int{10, 1000}
	for _, size := range sizes {
		b.Run(fmt.Sprint(size), func(b *testing.B) {
			c, keys := benchCache(b, size)
			for _, k := range keys {
				c.GetOrLoad(k)
			}
			b.ReportAllocs()
			b.ResetTimer()
			i := 0
			for b.Loop() {
				c.GetOrLoad(keys[i%size])
				i++
			}
		})
	}
}

func BenchmarkCacheRefGet(b *testing.B) {
	c, _ := benchCache(b, 1)
	h, _ := c.GetOrLoad("a")
	ref := h.Cached()
	b.ReportAllocs()
	for b.Loop() {
		_ = ref.Get().W
	}
}

func BenchmarkCacheRefGetCached(b *testing.B) {
	c, _ := benchCache(b, 1)
	h, _ := c.GetOrLoad("a")
	ref := h.Cached()
	b.ReportAllocs()
	for b.Loop() {
		_ = ref.GetCached().W
	}
}

func BenchmarkCacheReload(b *testing.B) {
	c, _ := benchCache(b, 1)
	c.GetOrLoad("a")
	b.ReportAllocs()
	for b.Loop() {
		c.Reload("a")
	}
}

func BenchmarkSharedBorrow(b *testing.B) {
	s := NewShared(benchTexture{W: 1})
	defer s.Release()
	b.ReportAllocs()
	for b.Loop() {
		r := s.Borrow()
		_ = r.Get().W
		r.Release()
	}
}

func BenchmarkSharedBorrowParallel(b *testing.B) {
	s := NewShared(benchTexture{W: 1})
	defer s.Release()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			r := s.BorrowBlocking()
			_ = r.Get().W
			r.Release()
		}
	})
}

func BenchmarkObjectTableChurn(b *testing.B) {
	names := newLockedNames()
	cell := NewObjectTableRegistry[Entity, string](names, WithArenaCapacity(1024))
	defer cell.Release()
	reg := cell.BorrowMut()
	defer reg.Release()
	r := reg.Get()
	es := NewEntities(1024)
	b.ReportAllocs()
	for b.Loop() {
		e := es.Spawn()
		c := r.Insert("obj", e)
		r.Remove(c.Index())
		es.Despawn(e)
	}
}
