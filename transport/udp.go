package transport

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
)

// Port range and retry bound for UdpPair allocation, per spec.md §4.2.
const (
	minRTPPort  = 5000
	maxRTPPort  = 65000
	maxBindTries = 20
)

// ErrAddrInUse is returned by NewUdpPair when no free even/odd port pair
// could be bound within maxBindTries attempts.
var ErrAddrInUse = errors.New("rtsp: no free RTP/RTCP port pair")

// UdpPair is a bound local RTP/RTCP socket pair: the RTCP port is always
// RTP+1, and the RTP port is always even, per spec.md §4.2.
type UdpPair struct {
	RTPConn  *net.UDPConn
	RTCPConn *net.UDPConn
}

// RTPPort and RTCPPort return the locally bound port numbers.
func (p *UdpPair) RTPPort() int  { return p.RTPConn.LocalAddr().(*net.UDPAddr).Port }
func (p *UdpPair) RTCPPort() int { return p.RTCPConn.LocalAddr().(*net.UDPAddr).Port }

// Close releases both sockets.
func (p *UdpPair) Close() error {
	err1 := p.RTPConn.Close()
	err2 := p.RTCPConn.Close()
	return errors.Join(err1, err2)
}

// NewUdpPair draws a random even port in [minRTPPort, maxRTPPort), binds
// RTP on it and RTCP on RTP+1. If RTCP's bind fails, RTP is closed and a
// fresh even port is tried; this mirrors the teacher's
// listenRTPandRTCP/createListeners retry loop (media/media_session.go),
// generalized from one fixed pair to unlimited independent pairs so two
// successive calls on the same host return disjoint ports.
func NewUdpPair(ip net.IP) (*UdpPair, error) {
	if ip == nil {
		ip = net.IPv4zero
	}

	var lastErr error
	for attempt := 0; attempt < maxBindTries; attempt++ {
		port := randomEvenPort()
		pair, err := bindPair(ip, port)
		if err == nil {
			return pair, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrAddrInUse, lastErr)
}

func bindPair(ip net.IP, rtpPort int) (*UdpPair, error) {
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: rtpPort})
	if err != nil {
		return nil, err
	}

	laddr := rtpConn.LocalAddr().(*net.UDPAddr)
	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: laddr.IP, Port: laddr.Port + 1})
	if err != nil {
		rtpConn.Close()
		return nil, err
	}

	return &UdpPair{RTPConn: rtpConn, RTCPConn: rtcpConn}, nil
}

func randomEvenPort() int {
	span := (maxRTPPort - minRTPPort) / 2
	return minRTPPort + 2*rand.Intn(span)
}
