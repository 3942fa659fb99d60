package advisor

import (
	"fmt"
	"strings"

	"github.com/kalambet/jurist/internal/proxy"
	"github.com/kalambet/jurist/internal/retrieval"
)

const systemPrompt = `Ты опытный юрист Российской Федерации. Отвечай на вопросы пользователей точно и по существу, опираясь на действующее законодательство РФ и судебную практику. Если данных недостаточно, прямо скажи, какие сведения нужны.

Верни ТОЛЬКО один JSON-объект без пояснений и markdown со следующими полями:
- "text": развернутый ответ на вопрос (строка)
- "cited_laws": статьи законов, на которые ты ссылаешься (массив строк)
- "cited_cases": упомянутые судебные решения (массив строк)
- "recommendations": практические шаги для пользователя (массив строк)
- "confidence": уверенность в ответе от 0 до 1 (число)`

const articlePrompt = `Ты опытный юрист Российской Федерации и автор статей для юридического блога. На основе вопроса пользователя и ответа юриста напиши подробную статью для широкой аудитории: заголовок, введение, разбор ситуации со ссылками на нормы права, пошаговые рекомендации и вывод. Пиши простым языком, без JSON и без markdown-разметки кода.`

// BuildPrompt constructs the chat messages for answering question. Snippets
// are past answers retrieved as context; filenames name the documents whose
// text is already merged into question.
func BuildPrompt(question string, filenames []string, snippets []retrieval.ScoredRecord) []proxy.Message {
	var sb strings.Builder
	sb.WriteString(systemPrompt)

	if len(snippets) > 0 {
		sb.WriteString("\n\n[Похожие вопросы и ответы]\n")
		for i, s := range snippets {
			fmt.Fprintf(&sb, "%d. (сходство %.2f)\nВопрос: %s\nОтвет: %s\n", i+1, s.Score, s.Question, s.Answer)
		}
	}

	var user strings.Builder
	user.WriteString(question)
	if len(filenames) > 0 {
		fmt.Fprintf(&user, "\n\nПриложенные документы: %s", strings.Join(filenames, ", "))
	}

	return []proxy.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: user.String()},
	}
}

func buildArticlePrompt(question, answer string) []proxy.Message {
	return []proxy.Message{
		{Role: "system", Content: articlePrompt},
		{Role: "user", Content: fmt.Sprintf("Вопрос: %s\n\nОтвет юриста: %s", question, answer)},
	}
}
