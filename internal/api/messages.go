package api

import (
	"errors"

	"watergb/internal/httpclient"
)

// Localised failure messages, one per screen action.
const (
	MsgLoadNeighborhoods = "فشل في تحميل الأحياء"
	MsgLoadSquares       = "فشل في تحميل المربعات"
	MsgLoadHouses        = "فشل في تحميل المنازل"
	MsgSaveHouse         = "فشل في حفظ البيانات"
	MsgDeleteHouse       = "فشل في حذف المنزل"
	MsgSaveReceipt       = "فشل في حفظ صورة الإيصال"
	MsgRemoveReceipt     = "فشل في حذف صورة الإيصال"
	MsgUnexpected        = "حدث خطأ غير متوقع"
	MsgNetwork           = "تعذر الاتصال بالخادم، تحقق من اتصالك بالشبكة"
	MsgTimeout           = "انتهت مهلة الاتصال بالخادم"
	MsgSessionExpired    = "انتهت الجلسة، يرجى تسجيل الدخول مرة أخرى"
)

// Localised success messages.
const (
	MsgHouseAdded      = "تم إضافة المنزل بنجاح"
	MsgHouseUpdated    = "تم تحديث بيانات المنزل بنجاح"
	MsgHouseDeleted    = "تم حذف المنزل بنجاح"
	MsgReceiptSaved    = "تم حفظ صورة الإيصال بنجاح"
	MsgReceiptRemoved  = "تم حذف صورة الإيصال بنجاح"
	MsgRegistered      = "تم إنشاء الحساب بنجاح، يمكنك الآن تسجيل الدخول"
	MsgConnected       = "متصل بالخادم"
	MsgDisconnected    = "غير متصل بالخادم"
	MsgNeighborhoodAdd = "تم إضافة الحي بنجاح"
	MsgSquareAdd       = "تم إضافة المربع بنجاح"
)

// UserMessage turns err into the short message shown to the user. The
// server's own message wins when it sent one; fallback is used for any
// other failure. Raw error detail never appears in the result.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if fallback == "" {
		fallback = MsgUnexpected
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		if ve.Localized != "" {
			return ve.Localized
		}
		return MsgInvalidInput
	}

	var se *httpclient.ServerError
	if errors.As(err, &se) {
		if se.Message != "" {
			return se.Message
		}
		if httpclient.IsAuthError(err) {
			return MsgSessionExpired
		}
		return fallback
	}

	var ne *httpclient.NetworkError
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return MsgTimeout
		}
		return MsgNetwork
	}
	return fallback
}
