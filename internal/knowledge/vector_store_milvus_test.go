package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildExpr(t *testing.T) {
	assert.Equal(t, "", buildExpr("", ""))
	assert.Equal(t, `chapter_slug == "ik"`, buildExpr("ik", ""))
	assert.Equal(t, `module_name == "Kinematics"`, buildExpr("", "Kinematics"))
	assert.Equal(t, `chapter_slug == "ik" && module_name == "Kinematics"`, buildExpr("ik", "Kinematics"))
}

// TestEscapeExpr 过滤值里的引号和反斜杠需要转义，防止表达式注入
func TestEscapeExpr(t *testing.T) {
	assert.Equal(t, `plain`, escapeExpr(`plain`))
	assert.Equal(t, `a\"b`, escapeExpr(`a"b`))
	assert.Equal(t, `a\\b`, escapeExpr(`a\b`))
	assert.Equal(t, `chapter_slug == "x\" || 1 == 1 || \""`, buildExpr(`x" || 1 == 1 || "`, ""))
}
