package protocol

type Type string

const (
	TypeConnectionResponse    Type = "ConnectionResponse"
	TypeLoginRequest          Type = "LoginRequest"
	TypeLoginResponse         Type = "LoginResponse"
	TypeRegisterRequest       Type = "RegisterRequest"
	TypeRegisterResponse      Type = "RegisterResponse"
	TypeChunkRequest          Type = "ChunkRequest"
	TypeChunkData             Type = "ChunkData"
	TypePlayerUpdate          Type = "PlayerUpdate"
	TypePlayerPositionsUpdate Type = "PlayerPositionsUpdate"
	TypePlayerJoined          Type = "PlayerJoined"
	TypePlayerLeft            Type = "PlayerLeft"
	TypePlayerList            Type = "PlayerList"
	TypeChatMessage           Type = "ChatMessage"
	TypePlayerAction          Type = "PlayerAction"
	TypeBlockPlacement        Type = "BlockPlacement"
	TypeWorldObjectUpdate     Type = "WorldObjectUpdate"
	TypeWildPokemonSpawn      Type = "WildPokemonSpawn"
	TypeWildPokemonDespawn    Type = "WildPokemonDespawn"
	TypePokemonBatchUpdate    Type = "PokemonBatchUpdate"
	TypeServerInfoRequest     Type = "ServerInfoRequest"
	TypeServerInfoResponse    Type = "ServerInfoResponse"
	TypeForceDisconnect       Type = "ForceDisconnect"
	TypeServerShutdown        Type = "ServerShutdown"
	TypeLogout                Type = "Logout"
	TypeLogoutResponse        Type = "LogoutResponse"
	TypePingRequest           Type = "PingRequest"
	TypePingResponse          Type = "PingResponse"
	TypeItemDrop              Type = "ItemDrop"
	TypeItemPickup            Type = "ItemPickup"
	TypeChestUpdate           Type = "ChestUpdate"
	TypeWorldStateUpdate      Type = "WorldStateUpdate"
	TypeError                 Type = "Error"
)

var known = map[Type]struct{}{}

func init() {
	for _, t := range []Type{
		TypeConnectionResponse, TypeLoginRequest, TypeLoginResponse, TypeRegisterRequest,
		TypeRegisterResponse, TypeChunkRequest, TypeChunkData, TypePlayerUpdate,
		TypePlayerPositionsUpdate, TypePlayerJoined, TypePlayerLeft, TypePlayerList,
		TypeChatMessage, TypePlayerAction, TypeBlockPlacement, TypeWorldObjectUpdate,
		TypeWildPokemonSpawn, TypeWildPokemonDespawn, TypePokemonBatchUpdate,
		TypeServerInfoRequest, TypeServerInfoResponse, TypeForceDisconnect, TypeServerShutdown,
		TypeLogout, TypeLogoutResponse, TypePingRequest, TypePingResponse, TypeItemDrop,
		TypeItemPickup, TypeChestUpdate, TypeWorldStateUpdate, TypeError,
	} {
		known[t] = struct{}{}
	}
}

func (t Type) Known() bool {
	_, ok := known[t]
	return ok
}

// AllowedBeforeAuth reports whether an unauthenticated connection may send t.
func (t Type) AllowedBeforeAuth() bool {
	switch t {
	case TypeLoginRequest, TypeRegisterRequest, TypeServerInfoRequest, TypePingRequest:
		return true
	}
	return false
}
