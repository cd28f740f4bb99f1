package model

// Record 分配结果源记录（由上游分配服务产出，导出前的原始行）
//
// 字段全部为字符串：上游来源（数据库、CSV、消息）类型不一，
// 统一在 Normalizer 边界做一次规范化，之后不再修改。
type Record struct {
	Counter        string // 学生序号
	NationalID     string // 学生身份号码
	FirstName      string
	LastName       string
	Gender         string
	Mobile         string // 学生手机号
	RegCenter      string // 注册中心代码（3 位）
	RegStatus      string // 注册状态
	GroupCode      string // 分组代码（6 位）
	SchoolCode     string // 学校代码（6 位）
	StudentType    string
	MentorID       string
	MentorName     string
	MentorMobile   string
	AllocationDate string
	YearCode       string // 学年代码
}

// Value 按字段名取值，未知字段返回空串
func (r Record) Value(field string) string {
	switch field {
	case "counter":
		return r.Counter
	case "national_id":
		return r.NationalID
	case "first_name":
		return r.FirstName
	case "last_name":
		return r.LastName
	case "gender":
		return r.Gender
	case "mobile":
		return r.Mobile
	case "reg_center":
		return r.RegCenter
	case "reg_status":
		return r.RegStatus
	case "group_code":
		return r.GroupCode
	case "school_code":
		return r.SchoolCode
	case "student_type":
		return r.StudentType
	case "mentor_id":
		return r.MentorID
	case "mentor_name":
		return r.MentorName
	case "mentor_mobile":
		return r.MentorMobile
	case "allocation_date":
		return r.AllocationDate
	case "year_code":
		return r.YearCode
	}
	return ""
}

// RecordIter 源记录迭代器。单遍消费，不支持回退。
// ok=false 表示流结束；err 非 nil 时本次迭代终止。
type RecordIter interface {
	Next() (rec Record, ok bool, err error)
}
