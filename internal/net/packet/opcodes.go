package packet

// Opcode identifies a wire message type. Opcodes are only unique within one
// protocol variant.
type Opcode = uint16

// Server → client opcodes (TmwAthena naming; most are shared with eAthena).
const (
	SMSG_SERVER_VERSION_RESPONSE Opcode = 0x7531
	SMSG_SERVER_PING             Opcode = 0x007f // contains server tick
	SMSG_CONNECTION_PROBLEM      Opcode = 0x0081
	SMSG_UPDATE_HOST             Opcode = 0x0063
	SMSG_UPDATE_HOST2            Opcode = 0x7534 // TmwAthena only, variable
	SMSG_LOGIN_DATA              Opcode = 0x0069
	SMSG_LOGIN_ERROR             Opcode = 0x006a
	SMSG_CHAR_LOGIN              Opcode = 0x006b
	SMSG_CHAR_LOGIN_ERROR        Opcode = 0x006c
	SMSG_CHAR_MAP_INFO           Opcode = 0x0071
	SMSG_MAP_LOGIN_SUCCESS       Opcode = 0x0073
	SMSG_BEING_VISIBLE           Opcode = 0x0078
	SMSG_BEING_MOVE              Opcode = 0x007b
	SMSG_BEING_SPAWN             Opcode = 0x007c
	SMSG_BEING_REMOVE            Opcode = 0x0080
	SMSG_WALK_RESPONSE           Opcode = 0x0087
	SMSG_PLAYER_STOP             Opcode = 0x0088
	SMSG_BEING_ACTION            Opcode = 0x008a
	SMSG_BEING_CHAT              Opcode = 0x008d
	SMSG_PLAYER_CHAT             Opcode = 0x008e
	SMSG_PLAYER_WARP             Opcode = 0x0091
	SMSG_CHANGE_MAP_SERVER       Opcode = 0x0092
	SMSG_BEING_NAME_RESPONSE     Opcode = 0x0095
	SMSG_WHISPER                 Opcode = 0x0097
	SMSG_WHISPER_RESPONSE        Opcode = 0x0098
	SMSG_GM_CHAT                 Opcode = 0x009a
	SMSG_BEING_CHANGE_DIRECTION  Opcode = 0x009c
	SMSG_PLAYER_STAT_UPDATE_1    Opcode = 0x00b0
	SMSG_PLAYER_STAT_UPDATE_2    Opcode = 0x00b1
	SMSG_BEING_EMOTION           Opcode = 0x00c0
	SMSG_MAP_QUIT_RESPONSE       Opcode = 0x018b

	// eAthena only, gated by packet version.
	SMSG_WHISPER_RESPONSE2 Opcode = 0x09df
)

// Client → server opcodes used by the outgoing helpers.
const (
	CMSG_SERVER_VERSION_REQUEST Opcode = 0x7530
	CMSG_MAP_SERVER_CONNECT     Opcode = 0x0072
	CMSG_MAP_LOADED             Opcode = 0x007d
	CMSG_CLIENT_PING            Opcode = 0x007e
	CMSG_CHAT_MESSAGE           Opcode = 0x008c
	CMSG_CHAT_WHISPER           Opcode = 0x0096
	CMSG_PLAYER_EMOTE           Opcode = 0x00bf
	CMSG_CLIENT_QUIT            Opcode = 0x018a
)

// Variable-length marker and "not registered" marker for PacketInfo.Length.
const (
	LengthVariable int32 = -1
	LengthUnknown  int32 = 0
)

// headerLen is the size of the opcode word; varHeaderLen adds the embedded
// length word of variable-length messages.
const (
	headerLen    = 2
	varHeaderLen = 4
)
