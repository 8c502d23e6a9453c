package broker

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startTestBroker(t *testing.T) (*Broker, string) {
	t.Helper()

	b := New("127.0.0.1", 0, nil, nil)
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)

	return b, b.Addr().String()
}

func connectRaw(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	r := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "INFO "))

	return conn, r
}

func TestPingPong(t *testing.T) {
	_, addr := startTestBroker(t)
	conn, r := connectRaw(t, addr)

	_, err := conn.Write([]byte("PING\r\n"))
	require.NoError(t, err)

	reply, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "PONG\r\n", reply)
}

func TestConnect(t *testing.T) {
	_, addr := startTestBroker(t)
	conn, r := connectRaw(t, addr)

	_, err := conn.Write([]byte("CONNECT {}\r\n"))
	require.NoError(t, err)

	reply, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", reply)
}

func TestSubPubRoundTrip(t *testing.T) {
	_, addr := startTestBroker(t)

	subConn, subR := connectRaw(t, addr)
	pubConn, pubR := connectRaw(t, addr)

	_, err := subConn.Write([]byte("SUB FOO 1\r\n"))
	require.NoError(t, err)
	reply, err := subR.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", reply)

	_, err = pubConn.Write([]byte("PUB FOO 5\r\nHello\r\n"))
	require.NoError(t, err)
	reply, err = pubR.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", reply)

	header, err := subR.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "MSG FOO 1 5\r\n", header)

	payload := make([]byte, 7)
	_, err = io.ReadFull(subR, payload)
	require.NoError(t, err)
	require.Equal(t, "Hello\r\n", string(payload))
}

func TestPubWithReplyTo(t *testing.T) {
	_, addr := startTestBroker(t)

	subConn, subR := connectRaw(t, addr)
	pubConn, pubR := connectRaw(t, addr)

	_, err := subConn.Write([]byte("SUB FOO 1\r\n"))
	require.NoError(t, err)
	_, err = subR.ReadString('\n')
	require.NoError(t, err)

	_, err = pubConn.Write([]byte("PUB FOO BAR 5\r\nHello\r\n"))
	require.NoError(t, err)
	_, err = pubR.ReadString('\n')
	require.NoError(t, err)

	header, err := subR.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "MSG FOO 1 BAR 5\r\n", header)
}

func TestQueueGroupTokenAccepted(t *testing.T) {
	_, addr := startTestBroker(t)
	conn, r := connectRaw(t, addr)

	_, err := conn.Write([]byte("SUB FOO QG 1\r\n"))
	require.NoError(t, err)

	reply, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", reply)
}

func TestUnsubStopsDelivery(t *testing.T) {
	_, addr := startTestBroker(t)

	subConn, subR := connectRaw(t, addr)
	pubConn, pubR := connectRaw(t, addr)

	_, err := subConn.Write([]byte("SUB FOO 1\r\n"))
	require.NoError(t, err)
	_, err = subR.ReadString('\n')
	require.NoError(t, err)

	_, err = subConn.Write([]byte("UNSUB 1\r\n"))
	require.NoError(t, err)
	reply, err := subR.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", reply)

	_, err = pubConn.Write([]byte("PUB FOO 5\r\nHello\r\n"))
	require.NoError(t, err)
	_, err = pubR.ReadString('\n')
	require.NoError(t, err)

	subConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = subR.ReadString('\n')
	require.Error(t, err, "expected no further frames after UNSUB")
}

func TestSubjectIsolation(t *testing.T) {
	_, addr := startTestBroker(t)

	subConn, subR := connectRaw(t, addr)
	pubConn, pubR := connectRaw(t, addr)

	_, err := subConn.Write([]byte("SUB A 1\r\n"))
	require.NoError(t, err)
	_, err = subR.ReadString('\n')
	require.NoError(t, err)

	_, err = pubConn.Write([]byte("PUB B 5\r\nHello\r\n"))
	require.NoError(t, err)
	_, err = pubR.ReadString('\n')
	require.NoError(t, err)

	subConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = subR.ReadString('\n')
	require.Error(t, err, "a different subject must never be delivered")
}

func TestPubSplitAcrossTwoWrites(t *testing.T) {
	_, addr := startTestBroker(t)

	subConn, subR := connectRaw(t, addr)
	pubConn, pubR := connectRaw(t, addr)

	_, err := subConn.Write([]byte("SUB FOO 1\r\n"))
	require.NoError(t, err)
	_, err = subR.ReadString('\n')
	require.NoError(t, err)

	_, err = pubConn.Write([]byte("PUB FOO 5\r\nHel"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = pubConn.Write([]byte("lo\r\n"))
	require.NoError(t, err)

	reply, err := pubR.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", reply)

	header, err := subR.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "MSG FOO 1 5\r\n", header)

	payload := make([]byte, 7)
	_, err = io.ReadFull(subR, payload)
	require.NoError(t, err)
	require.Equal(t, "Hello\r\n", string(payload))
}

func TestStopIsIdempotent(t *testing.T) {
	b := New("127.0.0.1", 0, nil, nil)
	require.NoError(t, b.Start())
	b.Stop()
	b.Stop()
}

func TestStartIsIdempotent(t *testing.T) {
	b := New("127.0.0.1", 0, nil, nil)
	require.NoError(t, b.Start())
	defer b.Stop()
	require.NoError(t, b.Start())
}
