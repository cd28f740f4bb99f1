package model

// ExportProfile 导出档案：列顺序、排序键与各字段的规范化规则
//
// 不同标识字段的补零宽度来自既有报表口径（注册中心 3 位，分组/学校 6 位），
// 新增字段的宽度属于配置决策，在档案里声明，不在代码里猜。
type ExportProfile struct {
	// Fields 输出列顺序（同时是表头）
	Fields []string
	// SortBy 排序键字段，按声明顺序构成键
	SortBy []string
	// PadWidths 规范化阶段的固定宽度补零（字段 → 宽度）
	PadWidths map[string]int
	// KeyWidths 排序键渲染阶段的固定宽度（字段 → 宽度）
	KeyWidths map[string]int
	// SensitiveFields 电子表格中强制文本格式的列（防止前导零/长数字被改写）
	SensitiveFields []string
	// PhoneFields 经过手机号整理例程的列
	PhoneFields []string
}

// DefaultProfile 默认学生-导师分配导出档案
func DefaultProfile() *ExportProfile {
	return &ExportProfile{
		Fields: []string{
			"counter",
			"national_id",
			"first_name",
			"last_name",
			"gender",
			"mobile",
			"reg_center",
			"reg_status",
			"group_code",
			"school_code",
			"student_type",
			"mentor_id",
			"mentor_name",
			"mentor_mobile",
			"allocation_date",
			"year_code",
		},
		SortBy: []string{"year_code", "reg_center", "group_code", "school_code", "national_id"},
		PadWidths: map[string]int{
			"group_code":  6,
			"school_code": 6,
		},
		KeyWidths: map[string]int{
			"reg_center":  3,
			"group_code":  6,
			"school_code": 6,
		},
		SensitiveFields: []string{"counter", "national_id", "mobile", "mentor_id", "mentor_mobile", "school_code", "group_code"},
		PhoneFields:     []string{"mobile", "mentor_mobile"},
	}
}

// FieldIndex 返回字段在输出列中的下标，不存在返回 -1
func (p *ExportProfile) FieldIndex(name string) int {
	for i, f := range p.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// IsSensitive 判断字段是否属于敏感文本列
func (p *ExportProfile) IsSensitive(name string) bool {
	for _, f := range p.SensitiveFields {
		if f == name {
			return true
		}
	}
	return false
}

// IsPhone 判断字段是否为手机号列
func (p *ExportProfile) IsPhone(name string) bool {
	for _, f := range p.PhoneFields {
		if f == name {
			return true
		}
	}
	return false
}
