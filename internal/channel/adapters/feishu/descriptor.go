// Package feishu implements the Feishu (Lark) channel adapter.
package feishu

import "github.com/memohai/memoh-feishu/internal/channel"

// Type is the channel type identifier for Feishu.
const Type channel.Type = "feishu"
