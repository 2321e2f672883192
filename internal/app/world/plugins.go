package world

import "pokemeetup-server/internal/app/plugin"

type pluginServer struct {
	svc *Service
}

// PluginServer exposes the running world to plugins.
func (s *Service) PluginServer() plugin.Server {
	return pluginServer{svc: s}
}

func (p pluginServer) BroadcastChat(content string) { p.svc.BroadcastChat(content) }
func (p pluginServer) OnlinePlayers() []string      { return p.svc.Usernames() }
func (p pluginServer) WorldSeed() int64             { return p.svc.Seed() }
