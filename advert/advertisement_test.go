package advert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvertisementAccessors(t *testing.T) {
	ch := NewChannelAdvertisement(&Channel{ID: "c1", Name: "chan"})
	assert.Equal(t, "c1", ch.ID())
	assert.Equal(t, "chan", ch.Name())
	assert.Equal(t, "channel/c1", ch.Key())
	assert.Equal(t, "c1", ch.Attr(AttrID))
	assert.Equal(t, "chan", ch.Attr(AttrName))

	g := NewGroupAdvertisement(&GroupInfo{ID: "g1", Name: "team"})
	assert.Equal(t, "group/g1", g.Key())

	var unknown Advertisement
	assert.Equal(t, "", unknown.ID())
	assert.Equal(t, "unknown", unknown.Kind.String())
}

func TestAdvertisementDecodesTaggedUnion(t *testing.T) {
	in := []Advertisement{
		NewChannelAdvertisement(&Channel{ID: "c1", Name: "n", Addr: "127.0.0.1:1", PublicKey: []byte{1, 2}}),
		NewPeerAdvertisement(&PeerInfo{ID: "p1", Name: "alice"}),
		NewGroupAdvertisement(&GroupInfo{ID: "g1", Name: "team", Private: true}),
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out []Advertisement
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 3)

	assert.Equal(t, KindChannel, out[0].Kind)
	assert.Equal(t, in[0].Channel, out[0].Channel)
	assert.Equal(t, KindPeer, out[1].Kind)
	assert.Equal(t, "alice", out[1].Peer.Name)
	assert.Equal(t, KindGroup, out[2].Kind)
	assert.True(t, out[2].Group.Private)
}

func TestAdvertisementUnknownKindPreserved(t *testing.T) {
	raw := []byte(`{"kind":"module","body":{"version":"x"}}`)

	var adv Advertisement
	require.NoError(t, json.Unmarshal(raw, &adv))
	assert.Equal(t, KindUnknown, adv.Kind)

	again, err := json.Marshal(adv)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
}

func TestAdvertisementRejectsMissingID(t *testing.T) {
	var adv Advertisement
	err := json.Unmarshal([]byte(`{"kind":"peer","body":{"name":"x"}}`), &adv)
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	orig := NewChannelAdvertisement(&Channel{ID: "c1", PublicKey: []byte{1}})
	cp := orig.Clone()
	cp.Channel.PublicKey[0] = 9
	cp.Channel.ID = "c2"
	assert.Equal(t, byte(1), orig.Channel.PublicKey[0])
	assert.Equal(t, "c1", orig.Channel.ID)
}
