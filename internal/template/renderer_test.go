package template

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/biztrack/notifier/internal/model"
)

func TestRender(t *testing.T) {
	t.Run("substitutes variables", func(t *testing.T) {
		got := Render("Due: {{dueDate}}", map[string]interface{}{"dueDate": "2025-07-15"})
		assert.Equal(t, "Due: 2025-07-15", got)
	})

	t.Run("missing variable stays verbatim", func(t *testing.T) {
		got := Render("Due: {{dueDate}}", map[string]interface{}{"title": "Q3 tender"})
		assert.Equal(t, "Due: {{dueDate}}", got)
	})

	t.Run("repeated placeholder replaced globally", func(t *testing.T) {
		got := Render("{{who}} and {{who}} again", map[string]interface{}{"who": "alice"})
		assert.Equal(t, "alice and alice again", got)
	})

	t.Run("non-string values use their string form", func(t *testing.T) {
		got := Render("{{hours}}h left", map[string]interface{}{"hours": 23.5})
		assert.Equal(t, "23.5h left", got)
	})
}

func TestRenderHTML_EscapesValues(t *testing.T) {
	got := RenderHTML("<p>{{title}}</p>", map[string]interface{}{
		"title": `<script>alert("x")</script>`,
	})
	assert.Equal(t, "<p>&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;</p>", got)
}

func TestRenderContent(t *testing.T) {
	tpl := model.Template{
		Subject:  "Task {{title}} due",
		Body:     "{{title}} is due {{dueDate}}",
		HTMLBody: "<b>{{title}}</b>",
	}
	vars := map[string]interface{}{"title": "Audit <draft>", "dueDate": "2025-07-15"}

	content := RenderContent(tpl, vars)
	assert.Equal(t, "Task Audit <draft> due", content.Subject)
	assert.Equal(t, "Audit <draft> is due 2025-07-15", content.Body)
	assert.Equal(t, "<b>Audit &lt;draft&gt;</b>", content.HTMLBody)
}
