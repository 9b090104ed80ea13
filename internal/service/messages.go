package service

import (
	"fmt"
	"strings"

	"taskgate.app/bot/internal/model"
)

// relayMarker prefixes every comment this system posts on behalf of a chat
// user. Reconciliation uses it to recognize its own comments and not echo
// them back as "new comment" notifications.
const relayMarker = "💬 Комментарий от @"

const completeCallbackPrefix = "complete_"

func completeCallbackData(key string) string {
	return completeCallbackPrefix + key
}

func parseCompleteCallback(data string) (string, bool) {
	if !strings.HasPrefix(data, completeCallbackPrefix) {
		return "", false
	}
	return strings.TrimPrefix(data, completeCallbackPrefix), true
}

func issueLink(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + key
}

func renderGroupConfirmation(tasks []model.TrackedTask) string {
	if len(tasks) == 1 {
		return fmt.Sprintf("✅ Задача %s создана: %s", tasks[0].Key, tasks[0].Summary)
	}
	keys := make([]string, len(tasks))
	for i, t := range tasks {
		keys[i] = t.Key
	}
	return fmt.Sprintf("✅ Созданы задачи %s: %s", strings.Join(keys, ", "), tasks[0].Summary)
}

func renderDetailedConfirmation(task model.TrackedTask, issueBaseURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📌 %s\n%s\n", task.Key, task.Summary)
	fmt.Fprintf(&b, "🔗 %s\n", issueLink(issueBaseURL, task.Key))
	b.WriteString("Когда задача будет выполнена, нажмите кнопку ниже.")
	return b.String()
}

func renderCreationFailure(reason string) string {
	return "❌ Не удалось создать задачу: " + reason
}

func renderClosureNotice(task model.TrackedTask, issueBaseURL string) string {
	return fmt.Sprintf("✅ Задача %s закрыта: %s\n🔗 %s",
		task.Key, task.Summary, issueLink(issueBaseURL, task.Key))
}

func renderApprovalNotice(task model.TrackedTask, issueBaseURL string) string {
	return fmt.Sprintf("👀 Задача %s ожидает согласования: %s\n🔗 %s",
		task.Key, task.Summary, issueLink(issueBaseURL, task.Key))
}

func renderAssignedNotice(task model.TrackedTask, issueBaseURL string) string {
	return fmt.Sprintf("📥 Вам назначена задача %s: %s\n🔗 %s",
		task.Key, task.Summary, issueLink(issueBaseURL, task.Key))
}

func renderReassignedNotice(task model.TrackedTask, newAssignee, issueBaseURL string) string {
	return fmt.Sprintf("🔄 Задача %s передана исполнителю %s: %s\n🔗 %s",
		task.Key, newAssignee, task.Summary, issueLink(issueBaseURL, task.Key))
}

func renderNewCommentNotice(task model.TrackedTask, author, preview, issueBaseURL string) string {
	if author == "" {
		author = "исполнитель"
	}
	return fmt.Sprintf("💬 Новый комментарий к %s от %s:\n%s\n🔗 %s",
		task.Key, author, preview, issueLink(issueBaseURL, task.Key))
}

func renderOverdueNotice(task model.TrackedTask, deadline, issueBaseURL string) string {
	return fmt.Sprintf("⏰ Задача %s просрочена (дедлайн %s): %s\n🔗 %s",
		task.Key, deadline, task.Summary, issueLink(issueBaseURL, task.Key))
}

func renderManualCloseHint(key string) string {
	return fmt.Sprintf("⚠️ Не удалось закрыть %s автоматически. Закройте задачу вручную в трекере.", key)
}
