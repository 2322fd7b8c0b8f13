package models

type Staff struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Skills         []string `json:"skills" yaml:"skills"`
	Available      bool     `json:"available" yaml:"available"`
	TelegramChatID int64    `json:"telegram_chat_id,omitempty" yaml:"telegram_chat_id"`
	Email          string   `json:"email,omitempty" yaml:"email"`
	// ActiveTasks is derived from the task table, not persisted.
	ActiveTasks int `json:"active_tasks" yaml:"-"`
}

// HasSkill reports whether the staff member lists the given skill.
func (s *Staff) HasSkill(skill string) bool {
	for _, sk := range s.Skills {
		if sk == skill {
			return true
		}
	}
	return false
}
