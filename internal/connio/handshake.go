// Package connio drives one physical connection through the states
// spec.md section 5 describes: handshake, idle, the execute algorithm
// (list expansion, cache lookup, prepare-on-miss, streaming decode), and
// the cleanup-on-return rules that decide whether a connection goes back
// to the pool clean or gets dropped.
package connio

import (
	"crypto/sha1"
	"fmt"

	"github.com/dbbouncer/mysqlx/internal/protocol"
	"github.com/dbbouncer/mysqlx/internal/wire"
)

// handshakeInfo holds what the server told us during Protocol::HandshakeV10,
// the bits authenticate needs to build HandshakeResponse41.
type handshakeInfo struct {
	serverVersion string
	connectionID  uint32
	authData      []byte
	capabilities  uint32
	authPlugin    string
}

// parseHandshakeV10 parses the server's initial handshake packet.
func parseHandshakeV10(pkt []byte) (handshakeInfo, error) {
	var h handshakeInfo
	if len(pkt) < 1 {
		return h, fmt.Errorf("connio: empty handshake packet")
	}
	if pkt[0] == protocol.ErrPacket {
		return h, fmt.Errorf("connio: server sent an error before handshake")
	}

	r := wire.NewReader(pkt)
	if _, err := r.U8(); err != nil { // protocol version, always 10
		return h, err
	}
	serverVersion, err := r.NullString()
	if err != nil {
		return h, fmt.Errorf("connio: reading server version: %w", err)
	}
	h.serverVersion = serverVersion

	connID, err := r.U32()
	if err != nil {
		return h, fmt.Errorf("connio: reading connection id: %w", err)
	}
	h.connectionID = connID

	authPart1, err := r.Bytes(8)
	if err != nil {
		return h, fmt.Errorf("connio: reading auth-data part 1: %w", err)
	}
	authData := append([]byte(nil), authPart1...)
	if err := r.Skip(1); err != nil { // filler
		return h, err
	}

	capLow, err := r.U16()
	if err != nil {
		return h, fmt.Errorf("connio: reading capability flags (low): %w", err)
	}
	if r.Len() == 0 {
		h.capabilities = uint32(capLow)
		h.authData = authData
		return h, nil
	}

	if err := r.Skip(3); err != nil { // charset(1) + status(2)
		return h, err
	}
	capHigh, err := r.U16()
	if err != nil {
		return h, fmt.Errorf("connio: reading capability flags (high): %w", err)
	}
	caps := uint32(capLow) | uint32(capHigh)<<16
	h.capabilities = caps

	var authPluginDataLen int
	if r.Len() > 0 {
		b, err := r.U8()
		if err != nil {
			return h, err
		}
		authPluginDataLen = int(b)
	}
	if err := r.Skip(10); err != nil { // reserved
		return h, err
	}

	part2Len := authPluginDataLen - 8
	if part2Len < 13 {
		part2Len = 13
	}
	if part2Len > r.Len() {
		part2Len = r.Len()
	}
	if part2Len > 0 {
		part2, err := r.Bytes(part2Len)
		if err != nil {
			return h, err
		}
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
	}
	h.authData = authData

	h.authPlugin = protocol.AuthPluginMySQLNativePassword
	if protocol.HasCapability(caps, protocol.ClientPluginAuth) && r.Len() > 0 {
		name, err := r.NullString()
		if err == nil {
			h.authPlugin = name
		}
	}
	return h, nil
}

// mysqlNativePasswordHash computes the mysql_native_password response:
// SHA1(password) XOR SHA1(authData || SHA1(SHA1(password))).
func mysqlNativePasswordHash(password, authData []byte) []byte {
	if len(password) == 0 {
		return nil
	}
	h1 := sha1.Sum(password)
	h2 := sha1.Sum(h1[:])
	h := sha1.New()
	h.Write(authData)
	h.Write(h2[:])
	h3 := h.Sum(nil)
	out := make([]byte, sha1.Size)
	for i := range out {
		out[i] = h1[i] ^ h3[i]
	}
	return out
}

// buildHandshakeResponse41 encodes Protocol::HandshakeResponse41.
func buildHandshakeResponse41(username, database string, authResponse []byte) []byte {
	b := wire.NewBuilder(64 + len(username) + len(database) + len(authResponse))
	b.U32(protocol.HandshakeCapabilities)
	b.U32(1<<24 - 1) // max_packet_size
	b.U8(0x21)       // utf8_general_ci
	b.Raw(make([]byte, 23))
	b.NullString(username)
	b.U8(byte(len(authResponse)))
	b.Raw(authResponse)
	b.NullString(database)
	b.NullString(protocol.AuthPluginMySQLNativePassword)
	return b.Bytes()
}

// authResult is the outcome of the handshake/auth exchange.
type authResult struct {
	serverVersion string
	connectionID  uint32
	capabilities  uint32
}

// Authenticate drives Protocol::HandshakeV10 and HandshakeResponse41 to
// completion over conn, including one AuthSwitchRequest round-trip if the
// server asks for it. It supports mysql_native_password only, per
// spec.md section 4.4.
func Authenticate(conn *wire.Conn, username, password, database string) (authResult, error) {
	var result authResult

	pkt, err := conn.ReadPacket()
	if err != nil {
		return result, fmt.Errorf("connio: reading handshake: %w", err)
	}
	hs, err := parseHandshakeV10(pkt)
	if err != nil {
		return result, err
	}
	result.serverVersion = hs.serverVersion
	result.connectionID = hs.connectionID
	// The effective capability set is whatever both sides advertise: the
	// client always requests ClientDeprecateEOF, but the server gets the
	// final say, so a connection to an older server must still expect the
	// terminating EOF packets ClientDeprecateEOF would otherwise drop.
	result.capabilities = protocol.HandshakeCapabilities & hs.capabilities

	var authResponse []byte
	switch hs.authPlugin {
	case protocol.AuthPluginMySQLNativePassword, "":
		authResponse = mysqlNativePasswordHash([]byte(password), hs.authData)
	default:
		return result, fmt.Errorf("connio: unsupported auth plugin %q", hs.authPlugin)
	}

	resp := buildHandshakeResponse41(username, database, authResponse)
	if err := conn.WritePacket(resp); err != nil {
		return result, fmt.Errorf("connio: sending handshake response: %w", err)
	}

	pkt, err = conn.ReadPacket()
	if err != nil {
		return result, fmt.Errorf("connio: reading auth result: %w", err)
	}
	if len(pkt) < 1 {
		return result, fmt.Errorf("connio: empty auth result")
	}

	switch pkt[0] {
	case protocol.OKPacket:
		return result, nil
	case 0xfe: // AuthSwitchRequest
		return result, handleAuthSwitch(conn, pkt, password)
	case protocol.ErrPacket:
		return result, fmt.Errorf("connio: authentication failed: %s", parseErrPacketMessage(pkt))
	default:
		return result, fmt.Errorf("connio: unexpected auth response byte 0x%02x", pkt[0])
	}
}

func handleAuthSwitch(conn *wire.Conn, pkt []byte, password string) error {
	r := wire.NewReader(pkt[1:])
	plugin, err := r.NullString()
	if err != nil {
		return fmt.Errorf("connio: malformed AuthSwitchRequest: %w", err)
	}
	authData := r.Rest()
	if len(authData) > 0 && authData[len(authData)-1] == 0 {
		authData = authData[:len(authData)-1]
	}

	var resp []byte
	switch plugin {
	case protocol.AuthPluginMySQLNativePassword:
		resp = mysqlNativePasswordHash([]byte(password), authData)
	default:
		return fmt.Errorf("connio: unsupported auth plugin switch to %q", plugin)
	}
	if err := conn.WritePacket(resp); err != nil {
		return fmt.Errorf("connio: sending auth switch response: %w", err)
	}

	final, err := conn.ReadPacket()
	if err != nil {
		return fmt.Errorf("connio: reading auth switch result: %w", err)
	}
	if len(final) < 1 || final[0] != protocol.OKPacket {
		if len(final) >= 1 && final[0] == protocol.ErrPacket {
			return fmt.Errorf("connio: authentication failed after plugin switch: %s", parseErrPacketMessage(final))
		}
		return fmt.Errorf("connio: authentication failed after plugin switch")
	}
	return nil
}

// parseErrPacketMessage extracts the human-readable message from an
// ERR_Packet, tolerating the presence or absence of the SQL state marker.
func parseErrPacketMessage(pkt []byte) string {
	r := wire.NewReader(pkt)
	if _, err := r.U8(); err != nil { // 0xff
		return "unknown error"
	}
	if _, err := r.U16(); err != nil { // error code
		return "unknown error"
	}
	if b, ok := r.Peek(); ok && b == '#' {
		_ = r.Skip(6) // sql state marker + 5-char state
	}
	return r.EOFString()
}
