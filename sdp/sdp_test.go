package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 192.168.1.10\r\n" +
	"s=camera\r\n" +
	"c=IN IP4 192.168.1.10\r\n" +
	"t=0 0\r\n" +
	"a=control:*\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=control:track1\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=fmtp:96 packetization-mode=1;sprop-parameter-sets=Z0IAHpZWoKA=\r\n" +
	"m=audio 0 RTP/AVP 0\r\n" +
	"a=control:track2\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

func TestUnmarshalParsesMultiMediaSDP(t *testing.T) {
	sd, err := Unmarshal([]byte(sampleSDP))
	require.NoError(t, err)

	assert.Equal(t, "*", sd.Control)
	require.NotNil(t, sd.Connection)
	assert.Equal(t, "192.168.1.10", sd.Connection.Address)

	require.Len(t, sd.Media, 2)

	video := sd.Media[0]
	assert.Equal(t, "video", video.MediaType)
	assert.Equal(t, "RTP/AVP", video.Protocol)
	assert.Equal(t, []int{96}, video.Formats)
	assert.Equal(t, "track1", video.Control)
	require.Contains(t, video.RTPMap, 96)
	assert.Equal(t, "H264", video.RTPMap[96].EncodingName)
	assert.Equal(t, uint32(90000), video.RTPMap[96].ClockRate)
	assert.Contains(t, video.FMTP, 96)
	assert.Contains(t, video.FMTP[96], "packetization-mode=1")

	audio := sd.Media[1]
	assert.Equal(t, "audio", audio.MediaType)
	assert.Equal(t, "track2", audio.Control)
	assert.Equal(t, "PCMU", audio.RTPMap[0].EncodingName)
	assert.Equal(t, uint32(8000), audio.RTPMap[0].ClockRate)
}

func TestUnmarshalParsesRTPMapWithChannelCount(t *testing.T) {
	body := "m=audio 0 RTP/AVP 97\r\na=rtpmap:97 L16/44100/2\r\n"
	sd, err := Unmarshal([]byte(body))
	require.NoError(t, err)

	entry := sd.Media[0].RTPMap[97]
	assert.Equal(t, "L16", entry.EncodingName)
	assert.Equal(t, uint32(44100), entry.ClockRate)
	assert.Equal(t, 2, entry.Channels)
}

func TestUnmarshalRejectsMalformedMediaLine(t *testing.T) {
	_, err := Unmarshal([]byte("m=video onlytwo\r\n"))
	assert.Error(t, err)
}

func TestUnmarshalRejectsRtpmapOutsideMediaSection(t *testing.T) {
	_, err := Unmarshal([]byte("a=rtpmap:0 PCMU/8000\r\n"))
	assert.Error(t, err)
}

func TestUnmarshalIgnoresUnknownLineTypes(t *testing.T) {
	body := "v=0\r\no=- 0 0 IN IP4 1.2.3.4\r\nb=AS:64\r\nm=video 0 RTP/AVP 96\r\n"
	sd, err := Unmarshal([]byte(body))
	require.NoError(t, err)
	assert.Len(t, sd.Media, 1)
}

func TestControlURIAbsoluteIsUsedVerbatim(t *testing.T) {
	got := ControlURI("rtsp://cam/stream", "rtsp://cam/stream/track7")
	assert.Equal(t, "rtsp://cam/stream/track7", got)
}

func TestControlURIStarResolvesToBase(t *testing.T) {
	got := ControlURI("rtsp://cam/stream", "*")
	assert.Equal(t, "rtsp://cam/stream", got)
}

func TestControlURIEmptyResolvesToBase(t *testing.T) {
	got := ControlURI("rtsp://cam/stream", "")
	assert.Equal(t, "rtsp://cam/stream", got)
}

func TestControlURIRelativeIsAppended(t *testing.T) {
	got := ControlURI("rtsp://cam/stream", "track1")
	assert.Equal(t, "rtsp://cam/stream/track1", got)
}

func TestControlURIRelativeAppendsWithoutDoubleSlash(t *testing.T) {
	got := ControlURI("rtsp://cam/stream/", "track1")
	assert.Equal(t, "rtsp://cam/stream/track1", got)
}
