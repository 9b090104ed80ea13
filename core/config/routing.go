package config

// Department describes one fixed routing target: a tracker queue plus the
// static assignee/follower policy configured for it.
type Department struct {
	Code      string
	Name      string
	Queue     string
	Assignee  string
	Followers []string
}

// Routing holds every lookup table the router, orchestrator and reconciler
// consult. All tables are built once at startup and never mutated; an absent
// key means "not configured", never a crash.
type Routing struct {
	Departments map[string]Department
	Hashtags    map[string]string // synonym hashtag -> department code

	TaskMarker       string // the privileged task marker, e.g. "#задача"
	PartnerIDPattern string // regexp with one capture group for the partner id

	PartnersQueue          string
	DefaultQueue           string
	PartnerAssignees       map[string]string // partner id -> tracker login
	DefaultPartnerAssignee string
	AutoCreateBoards       bool

	ManagerIDs map[int64]bool

	// HandleLogins maps a chat handle (lowercase, no "@") to a tracker login;
	// LoginHandles is the inverse, used to route "assigned to you" messages.
	HandleLogins map[string]string
	LoginHandles map[string]string

	NotifyAllIDs      []int64 // receive a copy of every detailed task confirmation
	ApprovalNotifyIDs []int64 // receive approval-stage notifications
}

// StatusAliases are the case-folded status labels the deployment treats as
// equivalent. Both machine keys and human display labels are matched against
// these sets, since the remote system is inconsistent about which is set.
type StatusAliases struct {
	Completed     []string
	InProgress    []string
	NeedsApproval []string
}

func (r Routing) DepartmentByCode(code string) (Department, bool) {
	d, ok := r.Departments[code]
	return d, ok
}

func (r Routing) IsManager(userID int64) bool {
	return r.ManagerIDs[userID]
}

func (r Routing) LoginForHandle(handle string) (string, bool) {
	login, ok := r.HandleLogins[handle]
	return login, ok
}

func (r Routing) HandleForLogin(login string) (string, bool) {
	handle, ok := r.LoginHandles[login]
	return handle, ok
}

// PartnerTag derives the board/filter tag for a partner id: "2" -> "WEB2".
func (r Routing) PartnerTag(partnerID string) string {
	return "WEB" + partnerID
}

func (r Routing) PartnerAssignee(partnerID string) string {
	if login, ok := r.PartnerAssignees[partnerID]; ok {
		return login
	}
	return r.DefaultPartnerAssignee
}

func loadRouting() Routing {
	departments := map[string]Department{
		"mgr":    {Code: "mgr", Name: "Менеджер", Queue: "MNG"},
		"hr":     {Code: "hr", Name: "HR", Queue: "HR"},
		"cc":     {Code: "cc", Name: "Колл-центр", Queue: "CC"},
		"razrab": {Code: "razrab", Name: "Разработка", Queue: "RAZRAB"},
		"owner":  {Code: "owner", Name: "Владелец", Queue: "OWNER"},
		"buy":    {Code: "buy", Name: "Закупки", Queue: "BUYING"},
		"comm":   {Code: "comm", Name: "Коммуникации", Queue: "COMM"},
		"head":   {Code: "head", Name: "Руководство", Queue: "HEAD"},
	}
	for code, assignee := range getEnvPairs("DEPARTMENT_ASSIGNEES") {
		if d, ok := departments[code]; ok {
			d.Assignee = assignee
			departments[code] = d
		}
	}

	handleLogins := getEnvPairs("HANDLE_LOGINS")
	loginHandles := make(map[string]string, len(handleLogins))
	for handle, login := range handleLogins {
		loginHandles[login] = handle
	}

	return Routing{
		Departments: departments,
		Hashtags: map[string]string{
			"#mgr":      "mgr",
			"#менедж":   "mgr",
			"#менеджер": "mgr",
			"#hr":       "hr",
			"#cc":       "cc",
			"#razrab":   "razrab",
			"#owner":    "owner",
			"#buy":      "buy",
			"#comm":     "comm",
			"#head":     "head",
		},
		TaskMarker:       getEnv("TASK_MARKER", "#задача"),
		PartnerIDPattern: `(?i)WEB\s*#?\s*(\d+)`,

		PartnersQueue:          getEnv("PARTNERS_QUEUE", "PARTNERS"),
		DefaultQueue:           getEnv("DEFAULT_QUEUE", "MNG"),
		PartnerAssignees:       getEnvPairs("PARTNER_ASSIGNEES"),
		DefaultPartnerAssignee: getEnv("DEFAULT_PARTNER_ASSIGNEE", ""),
		AutoCreateBoards:       getEnv("AUTO_CREATE_BOARDS", "false") == "true",

		ManagerIDs: getEnvInt64Set("MANAGER_IDS"),

		HandleLogins: handleLogins,
		LoginHandles: loginHandles,

		NotifyAllIDs:      getEnvInt64List("NOTIFY_ALL_IDS"),
		ApprovalNotifyIDs: getEnvInt64List("APPROVAL_NOTIFY_IDS"),
	}
}

func loadStatusAliases() StatusAliases {
	return StatusAliases{
		Completed:     getEnvList("COMPLETED_STATUSES", []string{"closed", "resolved", "done", "завершена", "закрыта"}),
		InProgress:    getEnvList("INPROGRESS_STATUSES", []string{"inprogress", "в работе"}),
		NeedsApproval: getEnvList("APPROVAL_STATUSES", []string{"needsapproval", "на согласовании"}),
	}
}
