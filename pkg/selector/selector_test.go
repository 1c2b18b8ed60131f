package selector_test

import (
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgardenlabs/shotsync/pkg/naming"
	"github.com/pixelgardenlabs/shotsync/pkg/scan"
	"github.com/pixelgardenlabs/shotsync/pkg/selector"
)

func item(path string, unix int64) scan.Item {
	return scan.Item{Path: "/edit/" + path, Name: path, ModTime: time.Unix(unix, 0)}
}

func TestSelectKeepsNewestPerKey(t *testing.T) {
	items := []scan.Item{
		item("shotA_Anim_v01.mp4", 100),
		item("shotA_Anim_v02.mp4", 200),
		item("shotB_Anim_v01.mp4", 300),
		item("shotB_Anim_v02.mp4", 150),
		item("shotC_layout.mp4", 999),
	}

	refs := selector.Select(slices.Values(items), naming.MarkerExtractor{Marker: "Anim"}, nil)

	require.Len(t, refs, 2)
	assert.Equal(t, "shotA_Anim_v02.mp4", refs["shotA_Anim"].Name)
	assert.Equal(t, "shotB_Anim_v01.mp4", refs["shotB_Anim"].Name)
	assert.Equal(t, []string{"shotA_Anim", "shotB_Anim"}, refs.Keys())
}

func TestSelectFilterRunsBeforeGrouping(t *testing.T) {
	items := []scan.Item{
		item("shotA_Anim_v01.mp4", 100),
		item("shotA_Anim_v02.mov", 500),
	}
	onlyMP4 := func(it scan.Item) bool { return it.Name[len(it.Name)-4:] == ".mp4" }

	refs := selector.Select(slices.Values(items), naming.MarkerExtractor{Marker: "Anim"}, onlyMP4)

	require.Len(t, refs, 1)
	assert.Equal(t, "shotA_Anim_v01.mp4", refs["shotA_Anim"].Name)
}

func TestSelectTieBreakIsOrderIndependent(t *testing.T) {
	items := []scan.Item{
		item("shotA_Anim_a.mp4", 100),
		item("shotA_Anim_c.mp4", 100),
		item("shotA_Anim_b.mp4", 100),
	}
	ex := naming.MarkerExtractor{Marker: "Anim"}

	r := rand.New(rand.NewSource(1))
	for range 10 {
		r.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		refs := selector.Select(slices.Values(items), ex, nil)
		assert.Equal(t, "shotA_Anim_c.mp4", refs["shotA_Anim"].Name)
	}
}

// One entry per key, holding the maximum time of the group.
func TestSelectReferenceIsGroupMaximum(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	keys := []string{"sh010_Anim", "sh020_Anim", "sh030_Anim", "sh040_Anim"}
	want := map[string]int64{}

	var items []scan.Item
	for i := range 200 {
		key := keys[r.Intn(len(keys))]
		ts := r.Int63n(10_000)
		items = append(items, item(key+"_v"+time.Unix(int64(i), 0).UTC().Format("150405")+".mp4", ts))
		if cur, ok := want[key]; !ok || ts > cur {
			want[key] = ts
		}
	}

	refs := selector.Select(slices.Values(items), naming.MarkerExtractor{Marker: "Anim"}, nil)

	require.Len(t, refs, len(want))
	for key, ts := range want {
		assert.Equal(t, ts, refs[key].ModTime.Unix(), "key %s", key)
	}
}
