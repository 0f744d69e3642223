package schemas

import "embed"

// SchemasFS - JSON-схемы входящих команд и исходящих событий сервиса
//
//go:embed requests events
var SchemasFS embed.FS
