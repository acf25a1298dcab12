package redis

func (s *Storage) playerKey(name string) string { return s.cfg.KeyPrefix + ":player:" + name }
func (s *Storage) playerIDKey(id string) string { return s.cfg.KeyPrefix + ":player-id:" + id }
func (s *Storage) gameKey(id string) string     { return s.cfg.KeyPrefix + ":game:" + id }
func (s *Storage) gamesKey() string             { return s.cfg.KeyPrefix + ":games" }
