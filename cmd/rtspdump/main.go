// Command rtspdump connects to an RTSP camera, plays its streams, and
// prints a one-line summary of every CodecItem it receives. With -wav it
// also decodes a fixed-size audio stream to linear PCM and muxes it to a
// WAV file. This is an example, not library code: it is the only place in
// this module that calls os.Exit, matching the teacher's layering where
// examples/*/main.go owns process exit codes and the library only logs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mistnet/rtsp"
	"github.com/mistnet/rtsp/codec"
	"github.com/mistnet/rtsp/sdp"
)

func main() {
	setupLogger()

	wavPath := flag.String("wav", "", "decode the first fixed-size audio stream to this WAV file")
	username := flag.String("username", "", "RTSP Basic/Digest auth username")
	password := flag.String("password", "", "RTSP Basic/Digest auth password")
	tcp := flag.String("transport", "udp", "media transport: udp or tcp")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: rtspdump [-wav file] [-username u -password p] [-transport udp|tcp] rtsp://host/path")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, flag.Arg(0), *wavPath, *username, *password, *tcp); err != nil {
		log.Error().Err(err).Msg("rtspdump failed")
		os.Exit(1)
	}
}

// setupLogger configures zerolog from RTSPDUMP_LOG (a zerolog level name)
// and RTSPDUMP_FORMAT ("console" or "json", defaulting to console), the
// way the teacher's examples read HTTP_DEBUG/LOG_LEVEL.
func setupLogger() {
	lvl, err := zerolog.ParseLevel(os.Getenv("RTSPDUMP_LOG"))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var w zerolog.ConsoleWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMicro}
	if os.Getenv("RTSPDUMP_FORMAT") == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

func run(ctx context.Context, url, wavPath, username, password, transportFlag string) error {
	opts := []rtsp.Option{rtsp.WithLogger(log.Logger)}
	if username != "" {
		opts = append(opts, rtsp.WithCredentials(rtsp.Credentials{Username: username, Password: password}))
	}

	sess, err := rtsp.Dial(ctx, url, opts...)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer sess.Teardown(ctx)

	sd, err := sess.Describe(ctx)
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}

	kind := rtsp.TransportUDP
	if transportFlag == "tcp" {
		kind = rtsp.TransportTCP
	}

	var wavSink *wavWriter
	streams := make([]*rtsp.Stream, 0, len(sd.Media))
	for i, md := range sd.Media {
		st, err := sess.Setup(ctx, i, kind)
		if err != nil {
			return fmt.Errorf("setup media %d (%s): %w", i, md.MediaType, err)
		}
		streams = append(streams, st)

		dep, isAudio := depacketizerFor(md)
		if dep != nil {
			st.SetDepacketizer(dep)
		}
		if isAudio && wavPath != "" && wavSink == nil {
			w, err := newWavWriter(wavPath, dep.(*codec.FixedSizeAudio))
			if err != nil {
				return fmt.Errorf("opening %s: %w", wavPath, err)
			}
			wavSink = w
			defer wavSink.Close()
		}
	}

	if err := sess.Play(ctx); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	log.Info().Str("session", sess.ID()).Int("streams", len(streams)).Msg("playing")

	for _, st := range streams {
		go pump(ctx, st, wavSink)
	}

	<-ctx.Done()
	return nil
}

// depacketizerFor picks a Depacketizer for one SDP media section based on
// its rtpmap encoding name, per spec.md §4.5. Media this client doesn't
// recognize (including application/metadata streams) falls back to a
// pass-through MessageLayer depacketizer rather than being left unplumbed.
// The second return value reports whether this is a fixed-size audio
// stream the -wav flag can mux.
func depacketizerFor(md sdp.MediaDescription) (codec.Depacketizer, bool) {
	var clockRate uint32
	for _, fmtNum := range md.Formats {
		entry, ok := md.RTPMap[fmtNum]
		if !ok {
			continue
		}
		clockRate = entry.ClockRate
		switch entry.EncodingName {
		case "PCMU":
			return codec.NewFixedSizeAudio(entry.ClockRate, 8, codec.PayloadTypePCMU), true
		case "PCMA":
			return codec.NewFixedSizeAudio(entry.ClockRate, 8, codec.PayloadTypePCMA), true
		case "H264":
			return codec.NewH264Depacketizer(entry.ClockRate), false
		case "H265":
			return codec.NewH265Depacketizer(entry.ClockRate), false
		}
	}
	return codec.NewMessageLayer(clockRate), false
}

func pump(ctx context.Context, st *rtsp.Stream, w *wavWriter) {
	for {
		item, err := st.Next(ctx)
		if err != nil {
			log.Warn().Err(err).Int("stream", st.Index()).Msg("stream ended")
			return
		}
		switch v := item.(type) {
		case codec.VideoFrame:
			fmt.Printf("video stream=%d key=%v bytes=%d ts=%.3f\n", st.Index(), v.KeyFrame, len(v.Payload), v.Timestamp.ElapsedSecs())
		case codec.AudioFrame:
			fmt.Printf("audio stream=%d bytes=%d frame_len=%d ts=%.3f\n", st.Index(), len(v.Payload), v.FrameLength, v.Timestamp.ElapsedSecs())
			if w != nil {
				w.WriteEncoded(v.Payload)
			}
		case codec.SenderReportItem:
			fmt.Printf("sender-report stream=%d ssrc=%d packets=%d\n", st.Index(), v.Report.SSRC, v.Report.PacketCnt)
		case codec.MessageLayer:
			fmt.Printf("message-layer stream=%d bytes=%d\n", st.Index(), len(v.Payload))
		}
	}
}

// wavWriter decodes G.711 payload to linear PCM and muxes it through
// go-audio/wav, adapted from the teacher's hand-rolled audio.WavWriter
// (audio/wav_writer.go) to use the upstream go-audio encoder instead,
// since this example CLI (unlike the library) has no reason to avoid it.
type wavWriter struct {
	enc *wav.Encoder
	dec *codec.FixedSizeAudio
	f   *os.File
}

func newWavWriter(path string, dec *codec.FixedSizeAudio) (*wavWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	params, _ := dec.Parameters()
	enc := wav.NewEncoder(f, int(params.ClockRate), 16, 1, 1)
	return &wavWriter{enc: enc, dec: dec, f: f}, nil
}

func (w *wavWriter) WriteEncoded(payload []byte) {
	pcm, err := w.dec.DecodeLPCM(payload)
	if err != nil {
		log.Warn().Err(err).Msg("decoding audio payload for wav output")
		return
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(pcm[2*i]) | int16(pcm[2*i+1])<<8)
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: 8000},
		Data:   samples,
	}
	if err := w.enc.Write(buf); err != nil {
		log.Warn().Err(err).Msg("writing wav samples")
	}
}

func (w *wavWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
