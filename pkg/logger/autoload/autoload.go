// Package autoload initialises the global logger from LOG_* variables on import.
package autoload

import (
	configx "github.com/tanpawarit/Chative-Task-Chat/pkg/config"
	logx "github.com/tanpawarit/Chative-Task-Chat/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
